package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL    = "database-url"
	flagStoreDriver    = "store-driver"
	flagAtomicBooking  = "atomic-booking"
	flagHTTPListenAddr = "http-listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagRequestTimeout = "request-timeout"
	flagRedisURL       = "redis-url"
	flagClassCacheTTL  = "class-cache-ttl"
	flagAMQPURL        = "amqp-url"
	flagAMQPExchange   = "amqp-exchange"
	flagPaymentsQueue  = "payments-queue"
	flagOTLPEndpoint   = "otlp-endpoint"
	flagOTLPInsecure   = "otlp-insecure"
	flagEnvironment    = "environment"

	envPrefix = "GRIND"
	envFile   = ".env"

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"
	databaseMemory  = "memory"

	defaultDatabaseURL    = "sqlite:///tmp/grind.db"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultAllowedOrigins = "http://localhost:3000"
	defaultJWTIssuer      = "tauth"
	defaultJWTCookieName  = "app_session"
	defaultRequestTimeout = 5 * time.Second
	defaultClassCacheTTL  = time.Minute
	defaultAMQPExchange   = "grind.booking.events"
	defaultPaymentsQueue  = "grind.payments.approved"
	defaultEnvironment    = "development"
)

type runtimeConfig struct {
	DatabaseURL    string
	StoreDriver    string
	AtomicBooking  bool
	HTTPListenAddr string
	GRPCListenAddr string
	AllowedOrigins string
	JWTSigningKey  string
	JWTIssuer      string
	JWTCookieName  string
	RequestTimeout time.Duration
	RedisURL       string
	ClassCacheTTL  time.Duration
	AMQPURL        string
	AMQPExchange   string
	PaymentsQueue  string
	OTLPEndpoint   string
	OTLPInsecure   bool
	Environment    string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "grindd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "grindd",
		Short:         "Gym class booking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(envFile)
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// URL, or \"memory\"")
	flags.String(flagStoreDriver, storeDriverGorm, "store implementation for postgres: gorm or pgx")
	flags.Bool(flagAtomicBooking, true, "commit bookings in a single transaction when the store supports it")
	flags.String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address, empty disables gRPC")
	flags.String(flagAllowedOrigins, defaultAllowedOrigins, "comma separated CORS origins")
	flags.String(flagJWTSigningKey, "", "tauth session signing key")
	flags.String(flagJWTIssuer, defaultJWTIssuer, "tauth session issuer")
	flags.String(flagJWTCookieName, defaultJWTCookieName, "tauth session cookie name")
	flags.Duration(flagRequestTimeout, defaultRequestTimeout, "per-request store deadline")
	flags.String(flagRedisURL, "", "redis URL for the class cache, empty disables caching")
	flags.Duration(flagClassCacheTTL, defaultClassCacheTTL, "class cache entry lifetime")
	flags.String(flagAMQPURL, "", "RabbitMQ URL for events and payments, empty disables both")
	flags.String(flagAMQPExchange, defaultAMQPExchange, "topic exchange for booking events")
	flags.String(flagPaymentsQueue, defaultPaymentsQueue, "queue consumed for approved payments")
	flags.String(flagOTLPEndpoint, "", "OTLP/gRPC trace endpoint, empty disables export")
	flags.Bool(flagOTLPInsecure, false, "disable TLS for the OTLP exporter")
	flags.String(flagEnvironment, defaultEnvironment, "deployment environment reported on traces")

	return cmd
}

// loadConfig resolves each flag from, in order, the command line, GRIND_* environment variables and defaults.
func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *runtimeConfig) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	cfg.AtomicBooking = v.GetBool(flagAtomicBooking)
	cfg.HTTPListenAddr = v.GetString(flagHTTPListenAddr)
	cfg.GRPCListenAddr = v.GetString(flagGRPCListenAddr)
	cfg.AllowedOrigins = v.GetString(flagAllowedOrigins)
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = v.GetString(flagJWTIssuer)
	cfg.JWTCookieName = v.GetString(flagJWTCookieName)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.ClassCacheTTL = v.GetDuration(flagClassCacheTTL)
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPExchange = v.GetString(flagAMQPExchange)
	cfg.PaymentsQueue = v.GetString(flagPaymentsQueue)
	cfg.OTLPEndpoint = strings.TrimSpace(v.GetString(flagOTLPEndpoint))
	cfg.OTLPInsecure = v.GetBool(flagOTLPInsecure)
	cfg.Environment = v.GetString(flagEnvironment)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == storeDriverPgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %q requires a postgres database url", storeDriverPgx)
	}
	if cfg.HTTPListenAddr == "" {
		return fmt.Errorf("http listen addr is required")
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
