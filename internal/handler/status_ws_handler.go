package handler

import (
	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/internal/pkg/serverutils"
	"watermark-gateway/internal/service"
	internalWS "watermark-gateway/internal/websocket"
	"watermark-gateway/pkg/events"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
)

// StatusHandler streams session status changes over a WebSocket until the
// session reaches a terminal state.
type StatusHandler struct {
	ingestion service.IIngestionService
	hub       *internalWS.Hub
	logger    logger.ILogger
}

func NewStatusHandler(ingestion service.IIngestionService, hub *internalWS.Hub, log logger.ILogger) *StatusHandler {
	return &StatusHandler{
		ingestion: ingestion,
		hub:       hub,
		logger:    log,
	}
}

func (h *StatusHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/status/:sessionId", h.ServeWs)
}

// ServeWs handles websocket requests from the peer.
func (h *StatusHandler) ServeWs(c *fiber.Ctx) error {
	// the connection outlives the request, so the param must be copied
	sessionID := utils.CopyString(c.Params("sessionId"))

	if h.ingestion.Status(sessionID).Status == model.SessionNotFound {
		return c.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, model.SessionNotFoundMessage))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(logger.ModuleWS, "Starting status stream", map[string]interface{}{"session_id": sessionID})
		internalWS.ServeWs(h.hub, conn, sessionID, func() events.SessionEvent {
			s := h.ingestion.Status(sessionID)
			return events.SessionEvent{
				SessionID:  s.ID,
				Status:     string(s.Status),
				Error:      s.Error,
				OccurredAt: s.UpdatedAt,
			}
		})
		h.logger.Info(logger.ModuleWS, "Status stream ended", map[string]interface{}{"session_id": sessionID})
	})(c)
}
