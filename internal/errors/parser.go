package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ikkim/cartage/internal/app/repository"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrorInfo is the caller-facing form of an error.
type ErrorInfo struct {
	Code    string
	Message string
	Status  int
}

// ParseError maps cartage kinds and store failures to stable codes. Store
// details are never exposed in the message.
func ParseError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: InternalServerError, Message: "internal server error", Status: http.StatusInternalServerError}
	}

	switch cartage.KindOf(err) {
	case cartage.KindNotAuthorized:
		return ErrorInfo{Code: AuthzForbidden, Message: "operation not permitted", Status: http.StatusForbidden}
	case cartage.KindCartNotFound:
		return ErrorInfo{Code: CartNotFound, Message: "cart not found", Status: http.StatusNotFound}
	case cartage.KindCartExists:
		return ErrorInfo{Code: CartExists, Message: "cart already exists", Status: http.StatusConflict}
	case cartage.KindCartFinalized:
		return ErrorInfo{Code: CartFinalized, Message: "cart is finalized", Status: http.StatusConflict}
	case cartage.KindLineNotFound:
		return ErrorInfo{Code: LineNotFound, Message: "cart line not found", Status: http.StatusNotFound}
	}

	if errors.Is(err, repository.ErrQuantityScale) {
		return ErrorInfo{Code: ValidationInvalidInput, Message: "quantity has too many fractional digits", Status: http.StatusBadRequest}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, redis.Nil) {
		return ErrorInfo{Code: StoreConflict, Message: "record changed concurrently", Status: http.StatusConflict}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrorInfo{Code: StoreConflict, Message: "record already exists", Status: http.StatusConflict}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorInfo{Code: StoreUnavailable, Message: "request timed out", Status: http.StatusServiceUnavailable}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout") {
		return ErrorInfo{Code: StoreUnavailable, Message: "store unavailable, try again later", Status: http.StatusServiceUnavailable}
	}

	return ErrorInfo{Code: InternalServerError, Message: "internal server error", Status: http.StatusInternalServerError}
}
