package httpapi

import (
	"net/http"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/gin-gonic/gin"
)

func statusForKind(kind booking.ErrorKind) int {
	switch kind {
	case booking.KindUserNotFound, booking.KindClassNotFound, booking.KindBookingNotFound:
		return http.StatusNotFound
	case booking.KindClassFull, booking.KindDuplicateBooking, booking.KindDuplicateGrant:
		return http.StatusConflict
	case booking.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case booking.KindInvalidInput:
		return http.StatusBadRequest
	case booking.KindUnsupported:
		return http.StatusNotImplemented
	case booking.KindAvailabilityCheckFailed, booking.KindBookingInsertFailed, booking.KindCreditDebitFailed,
		booking.KindBookingCancelFailed, booking.KindCreditRefundFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
