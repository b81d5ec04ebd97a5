// Package httpapi exposes booking operations over HTTP behind a tauth session.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	roleAdmin        = "admin"
	shutdownTimeout  = 5 * time.Second
)

// BookingService is the subset of booking.Service the HTTP API calls.
type BookingService interface {
	EnsureProfile(ctx context.Context, userID booking.UserID, role booking.Role) (booking.Profile, error)
	Credits(ctx context.Context, userID booking.UserID) (booking.Credits, error)
	ListBookings(ctx context.Context, userID booking.UserID, limit int) ([]booking.Booking, error)
	BookClass(ctx context.Context, userID booking.UserID, classID booking.ClassID) (booking.Booking, error)
	CancelBooking(ctx context.Context, userID booking.UserID, bookingID booking.BookingID) (booking.Booking, error)
	Availability(ctx context.Context, classID booking.ClassID) (booking.Availability, error)
	ScheduleClass(ctx context.Context, class booking.ClassSchedule) error
	TopUpCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON) (booking.Credits, error)
}

// Server is the HTTP front of the booking service.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *zap.Logger
}

// NewServer validates cfg and builds the router.
func NewServer(cfg Config, service BookingService, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{logger: logger, service: service, cfg: cfg}
	return &Server{cfg: cfg, router: setupRouter(cfg, handler, validator), logger: logger}, nil
}

// Handler returns the configured router.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.GET("/credits", handler.handleCredits)
	api.GET("/bookings", handler.handleListBookings)
	api.POST("/bookings", handler.handleBookClass)
	api.POST("/bookings/:id/cancel", handler.handleCancelBooking)
	api.GET("/classes/:id/availability", handler.handleAvailability)

	admin := api.Group("/admin")
	admin.Use(requireRole(roleAdmin))
	admin.POST("/classes", handler.handleScheduleClass)
	admin.POST("/users/:id/credits", handler.handleGrantCredits)

	return router
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		if !slices.Contains(claims.GetUserRoles(), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "insufficient role"))
			return
		}
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// profileRole picks the highest role the session carries.
func profileRole(roles []string) booking.Role {
	for _, candidate := range []booking.Role{booking.RoleAdmin, booking.RoleCoach} {
		if slices.Contains(roles, string(candidate)) {
			return candidate
		}
	}
	return booking.RoleMember
}
