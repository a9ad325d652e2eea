package controller

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"watermark-gateway/internal/dto"
	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/serverutils"
	"watermark-gateway/internal/service"
	"watermark-gateway/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

const noMatchMessage = "No matching video found"

type IVideoController interface {
	RegisterRoutes(r fiber.Router)
	Upload(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
	Download(ctx *fiber.Ctx) error
	Analyze(ctx *fiber.Ctx) error
}

type videoController struct {
	ingestion   service.IIngestionService
	recognition service.IRecognitionService
}

func NewVideoController(ingestion service.IIngestionService, recognition service.IRecognitionService) IVideoController {
	return &videoController{
		ingestion:   ingestion,
		recognition: recognition,
	}
}

func (c *videoController) RegisterRoutes(r fiber.Router) {
	r.Post("/upload", c.Upload)
	r.Get("/status/:sessionId", c.Status)
	r.Get("/download/:sessionId", c.Download)
	r.Post("/analyze", c.Analyze)
}

func videoUpload(ctx *fiber.Ctx) (dto.VideoUploadRequest, error) {
	var req dto.VideoUploadRequest
	if fh, err := ctx.FormFile("video"); err == nil {
		req.Video = fh
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return req, err
	}
	return req, nil
}

// Upload answers with the session id as soon as the body is captured.
func (c *videoController) Upload(ctx *fiber.Ctx) error {
	req, err := videoUpload(ctx)
	if err != nil {
		return err
	}

	src, err := req.Video.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	session := c.ingestion.Begin()
	inputPath, err := c.ingestion.Capture(session.ID, src)
	if err != nil {
		return err
	}

	c.ingestion.Dispatch(session.ID, inputPath)

	return ctx.JSON(session.ID)
}

func (c *videoController) Status(ctx *fiber.Ctx) error {
	session := c.ingestion.Status(ctx.Params("sessionId"))

	res := dto.SessionStatusResponse{Status: string(session.Status)}
	if session.Error != "" {
		res.Error = &session.Error
	}
	return ctx.JSON(res)
}

func (c *videoController) Download(ctx *fiber.Ctx) error {
	sessionID := ctx.Params("sessionId")
	session := c.ingestion.Status(sessionID)

	switch session.Status {
	case model.SessionCompleted:
		f, err := os.Open(c.ingestion.AssetPath(sessionID))
		if errors.Is(err, fs.ErrNotExist) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "Processed video file not found"))
		}
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		ctx.Set(fiber.HeaderContentType, "video/mp4")
		return ctx.SendStream(f, int(info.Size()))

	case model.SessionFailed:
		return ctx.Status(fiber.StatusInternalServerError).SendString(session.Error)

	default:
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Video is not ready for download (status: "+string(session.Status)+")"))
	}
}

// Analyze streams back the stored asset whose watermark is nearest to the probe.
func (c *videoController) Analyze(ctx *fiber.Ctx) error {
	req, err := videoUpload(ctx)
	if err != nil {
		return err
	}

	src, err := req.Video.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	match, err := c.recognition.AnalyzeUpload(ctx.UserContext(), src)
	if errors.Is(err, apperror.ErrNoMatch) {
		return ctx.Status(fiber.StatusNotFound).SendString(noMatchMessage)
	}
	if err != nil {
		return err
	}

	f, err := os.Open(match.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("matched asset %s: %w", match.Path, apperror.ErrNotFound)
		}
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	ctx.Set(fiber.HeaderContentType, match.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, match.FileName))
	return ctx.SendStream(f, int(info.Size()))
}
