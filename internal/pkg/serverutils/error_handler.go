package serverutils

import (
	"errors"
	"net/http"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into ErrorResponse
// envelopes with the status from apperror.HTTPStatus. Fiber's own errors
// (404 route, 413 body limit) keep their codes.
func ErrorHandlerMiddleware(log logger.ILogger) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := apperror.HTTPStatus(err)
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		details := map[string]interface{}{
			"method": ctx.Method(),
			"path":   ctx.Path(),
			"status": code,
			"error":  err.Error(),
		}
		switch {
		case code >= http.StatusInternalServerError:
			log.Error(logger.ModuleHTTP, "Request failed", details)
		case code == http.StatusNotFound:
			log.Info(logger.ModuleHTTP, "Resource not found", details)
		default:
			log.Warn(logger.ModuleHTTP, "Request rejected", details)
		}

		return ctx.Status(code).JSON(ErrorResponse(code, err.Error()))
	}
}
