package common

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHandleErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("lookup: %w", NewNotFoundError("record", "lobby/1")), http.StatusNotFound},
		{"validation", NewValidationError("bad since"), http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no key"), http.StatusUnauthorized},
		{"store", fmt.Errorf("listing: %w", NewStoreUnavailableError("query", errors.New("eof"))), http.StatusServiceUnavailable},
		{"source", NewSourceUnavailableError("wc3stats", errors.New("502")), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			HandleError(c, tt.err)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestIsPermanentDelivery(t *testing.T) {
	assert.True(t, IsPermanentDelivery(fmt.Errorf("dm: %w", NewSinkDeliveryFailedError("u1", "closed"))))
	assert.False(t, IsPermanentDelivery(ErrSinkNotFound))
	assert.False(t, IsPermanentDelivery(errors.New("timeout")))
}
