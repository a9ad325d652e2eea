package serverutils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/apperror"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", &apperror.ValidationError{Field: "video", Message: "required"}, http.StatusBadRequest},
		{"no match", apperror.ErrNoMatch, http.StatusNotFound},
		{"wrapped not found", errors.Join(errors.New("lookup"), apperror.ErrNotFound), http.StatusNotFound},
		{"backend", &apperror.BackendError{Service: "extraction", StatusCode: 503}, http.StatusInternalServerError},
		{"fiber error", fiber.NewError(http.StatusRequestEntityTooLarge, "too big"), http.StatusRequestEntityTooLarge},
		{"plain", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(ErrorHandlerMiddleware(logger.NewNopLogger()))
			app.Get("/", func(ctx *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var envelope Response[any]
			require.NoError(t, json.Unmarshal(body, &envelope))
			assert.False(t, envelope.Success)
			assert.Equal(t, tt.wantCode, envelope.Code)
			assert.Equal(t, tt.err.Error(), envelope.Message)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	type probe struct {
		SessionID string `validate:"required,uuid4"`
	}

	assert.NoError(t, ValidateRequest(probe{SessionID: "5f1c1f3e-8d2a-4c39-9a55-0c6f6a1f2b7d"}))

	err := ValidateRequest(probe{SessionID: "nope"})
	var validationErr *apperror.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "sessionid", validationErr.Field)
	assert.Equal(t, http.StatusBadRequest, apperror.HTTPStatus(err))
}
