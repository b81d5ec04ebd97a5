package pgstore

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

const (
	migrationsDir    = "migrations"
	migrationDialect = "postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (adapter gooseLogger) Printf(format string, args ...any) {
	adapter.logger.Infof(format, args...)
}

func (adapter gooseLogger) Fatalf(format string, args ...any) {
	adapter.logger.Fatalf(format, args...)
}

// Migrate applies the embedded migrations: tables, indexes and the booking functions.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger.Sugar()})
	if err := goose.SetDialect(migrationDialect); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, fmt.Errorf("goose up: %w", err))
	}
	return nil
}
