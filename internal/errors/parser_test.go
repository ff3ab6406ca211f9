package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartage/internal/app/repository"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"Not authorized", &cartage.Error{Kind: cartage.KindNotAuthorized}, AuthzForbidden, http.StatusForbidden},
		{"Cart not found", fmt.Errorf("lookup: %w", cartage.ErrCartNotFound), CartNotFound, http.StatusNotFound},
		{"Cart exists", cartage.ErrCartExists, CartExists, http.StatusConflict},
		{"Cart finalized", cartage.ErrCartFinalized, CartFinalized, http.StatusConflict},
		{"Line not found", cartage.ErrLineNotFound, LineNotFound, http.StatusNotFound},
		{"Record vanished", fmt.Errorf("line: %w", gorm.ErrRecordNotFound), StoreConflict, http.StatusConflict},
		{"Quantity scale", fmt.Errorf("quantity 0.0000001: %w", repository.ErrQuantityScale), ValidationInvalidInput, http.StatusBadRequest},
		{"Deadline", context.DeadlineExceeded, StoreUnavailable, http.StatusServiceUnavailable},
		{"Connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), StoreUnavailable, http.StatusServiceUnavailable},
		{"Unknown", errors.New("boom"), InternalServerError, http.StatusInternalServerError},
		{"Nil", nil, InternalServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseError(tt.err)
			assert.Equal(t, tt.wantCode, info.Code)
			assert.Equal(t, tt.wantStatus, info.Status)
			assert.NotEmpty(t, info.Message)
		})
	}
}

func TestRespondWithParsedError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithParsedError(c, cartage.ErrCartFinalized)

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CartFinalized, body.Error)
}
