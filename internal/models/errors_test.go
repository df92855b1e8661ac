package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("Post", 1), http.StatusNotFound},
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no"), http.StatusUnauthorized},
		{"forbidden", NewForbiddenError("no"), http.StatusForbidden},
		{"conflict", NewConflictError("dup"), http.StatusConflict},
		{"rate limited", NewRateLimitedError("slow down"), http.StatusTooManyRequests},
		{"transient", NewTransientStoreError("counter store", errors.New("down")), http.StatusServiceUnavailable},
		{"exhausted", NewQueueExhaustedError("sync-like", 5, errors.New("x")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NewNotFoundError("User", 2)), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestHasCode(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("ctx: %w", NewValidationError("x"))
	assert.True(t, HasCode(err, CodeValidation))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("x"), CodeValidation))
}

func TestRespondWithAppError_HidesTransientCause(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return RespondWithAppError(c, NewTransientStoreError("counter store", errors.New("dial tcp 10.0.0.1")))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, CodeTransientStore, out.Code)
	assert.Empty(t, out.Details)
}

func TestNewPage(t *testing.T) {
	t.Parallel()
	p := NewPage([]int{1, 2}, 0, 2, 5)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, int64(5), p.Total)

	empty := NewPage[int](nil, 3, 20, 0)
	assert.NotNil(t, empty.Data)
	assert.Equal(t, 0, empty.TotalPages)
	assert.Equal(t, 40, Offset(2, 20))
	assert.Equal(t, 0, Offset(-1, 20))
}

func TestOffset_Saturates(t *testing.T) {
	t.Parallel()
	off := Offset(461168601842738791, 20)
	assert.Equal(t, math.MaxInt-20, off)
	assert.Positive(t, off+20)
	assert.Equal(t, 0, Offset(5, 0))
}
