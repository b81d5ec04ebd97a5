package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	adminGrantKeyPrefix = "admin:"
	adminGrantSource    = "admin"
)

type httpHandler struct {
	logger  *zap.Logger
	service BookingService
	cfg     Config
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims, userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	profile, err := handler.service.EnsureProfile(requestCtx, userID, profileRole(claims.GetUserRoles()))
	if err != nil {
		handler.respondError(ctx, "ensure profile failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
		"role":       string(profile.Role()),
		"credits":    profile.Credits().Int64(),
	})
}

func (handler *httpHandler) handleCredits(ctx *gin.Context) {
	_, userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.Credits(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "credits lookup failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": balance.Int64()})
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	_, userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	limit := 0
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.service.ListBookings(requestCtx, userID, limit)
	if err != nil {
		handler.respondError(ctx, "list bookings failed", err)
		return
	}
	payloads := make([]bookingPayload, 0, len(bookings))
	for _, record := range bookings {
		payloads = append(payloads, newBookingPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payloads})
}

func (handler *httpHandler) handleBookClass(ctx *gin.Context) {
	_, userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request bookClassRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with class_id"))
		return
	}
	classID, err := booking.NewClassID(request.ClassID)
	if err != nil {
		handler.respondError(ctx, "invalid class id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	created, err := handler.service.BookClass(requestCtx, userID, classID)
	if err != nil {
		handler.respondError(ctx, "book class failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": newBookingPayload(created)})
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	_, userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	bookingID, err := booking.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "invalid booking id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	cancelled, err := handler.service.CancelBooking(requestCtx, userID, bookingID)
	if err != nil {
		handler.respondError(ctx, "cancel booking failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(cancelled)})
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	if _, _, ok := handler.sessionUser(ctx); !ok {
		return
	}
	classID, err := booking.NewClassID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "invalid class id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	availability, err := handler.service.Availability(requestCtx, classID)
	if err != nil {
		handler.respondError(ctx, "availability failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"class":     newClassPayload(availability.Class),
		"confirmed": availability.Confirmed,
		"remaining": availability.Remaining,
	})
}

func (handler *httpHandler) handleScheduleClass(ctx *gin.Context) {
	var request scheduleClassRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	rawID := strings.TrimSpace(request.ID)
	if rawID == "" {
		rawID = uuid.NewString()
	}
	classID, err := booking.NewClassID(rawID)
	if err != nil {
		handler.respondError(ctx, "invalid class id", err)
		return
	}
	capacity, err := booking.NewCapacity(request.Capacity)
	if err != nil {
		handler.respondError(ctx, "invalid capacity", err)
		return
	}
	class, err := booking.NewClassSchedule(classID, request.Title, capacity, request.StartsAt, request.EndsAt, request.Location)
	if err != nil {
		handler.respondError(ctx, "invalid class", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.ScheduleClass(requestCtx, class); err != nil {
		handler.respondError(ctx, "schedule class failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"class": newClassPayload(class)})
}

func (handler *httpHandler) handleGrantCredits(ctx *gin.Context) {
	claims := getClaims(ctx)
	var request grantCreditsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with credits"))
		return
	}
	userID, err := booking.NewUserID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "invalid user id", err)
		return
	}
	amount, err := booking.NewPositiveCredits(request.Credits)
	if err != nil {
		handler.respondError(ctx, "invalid credits", err)
		return
	}
	rawKey := strings.TrimSpace(request.IdempotencyKey)
	if rawKey == "" {
		rawKey = uuid.NewString()
	}
	idempotencyKey, err := booking.NewIdempotencyKey(adminGrantKeyPrefix + rawKey)
	if err != nil {
		handler.respondError(ctx, "invalid idempotency key", err)
		return
	}
	metadata, err := booking.NewMetadataJSON(marshalMetadata(map[string]any{
		"source":     adminGrantSource,
		"reason":     request.Reason,
		"granted_by": claims.GetUserID(),
	}))
	if err != nil {
		handler.respondError(ctx, "invalid metadata", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.TopUpCredits(requestCtx, userID, amount, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, "grant credits failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user_id": userID.String(), "credits": balance.Int64()})
}

func (handler *httpHandler) sessionUser(ctx *gin.Context) (*sessionvalidator.Claims, booking.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return nil, booking.UserID{}, false
	}
	userID, err := booking.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return nil, booking.UserID{}, false
	}
	return claims, userID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	kind := booking.KindOf(err)
	statusCode := statusForKind(kind)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.String("error_kind", string(kind)), zap.Error(err))
	}
	ctx.JSON(statusCode, errorResponse(string(kind), booking.UserMessage(err)))
}

func marshalMetadata(metadata any) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

type bookClassRequest struct {
	ClassID string `json:"class_id" binding:"required"`
}

type scheduleClassRequest struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Capacity int64     `json:"capacity"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Location string    `json:"location"`
}

type grantCreditsRequest struct {
	Credits        int64  `json:"credits"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type bookingPayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClassID   string    `json:"class_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newBookingPayload(record booking.Booking) bookingPayload {
	return bookingPayload{
		ID:        record.ID().String(),
		UserID:    record.UserID().String(),
		ClassID:   record.ClassID().String(),
		Status:    string(record.Status()),
		CreatedAt: record.CreatedAt(),
		UpdatedAt: record.UpdatedAt(),
	}
}

type classPayload struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Capacity int64      `json:"capacity"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Location string     `json:"location,omitempty"`
}

func newClassPayload(class booking.ClassSchedule) classPayload {
	payload := classPayload{
		ID:       class.ID().String(),
		Title:    class.Title(),
		Capacity: class.Capacity().Int64(),
		Location: class.Location(),
	}
	if startsAt := class.StartsAt(); !startsAt.IsZero() {
		payload.StartsAt = &startsAt
	}
	if endsAt := class.EndsAt(); !endsAt.IsZero() {
		payload.EndsAt = &endsAt
	}
	return payload
}
