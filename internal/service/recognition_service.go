package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/apperror"
	"watermark-gateway/pkg/watermark"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Extractor interface {
	Extract(ctx context.Context, videoPath string) (watermark.BitVector, error)
}

// Match is the stored asset closest to a probe.
type Match struct {
	Path        string
	ContentType string
	FileName    string
	Distance    float64
}

type IRecognitionService interface {
	Analyze(ctx context.Context, probePath string) (*Match, error)
	AnalyzeUpload(ctx context.Context, src io.Reader) (*Match, error)
}

type recognitionService struct {
	tempDir   string
	extractor Extractor
	index     WatermarkIndex
	logger    logger.ILogger
	tracer    trace.Tracer
}

func NewRecognitionService(tempDir string, extractor Extractor, index WatermarkIndex, log logger.ILogger) IRecognitionService {
	return &recognitionService{
		tempDir:   tempDir,
		extractor: extractor,
		index:     index,
		logger:    log,
		tracer:    otel.Tracer("watermark-gateway/recognition"),
	}
}

// Analyze extracts the watermark from the probe at probePath and returns the
// nearest indexed asset. No comparable record, or a record whose file is gone,
// is reported as apperror.ErrNoMatch / apperror.ErrNotFound.
func (s *recognitionService) Analyze(ctx context.Context, probePath string) (*Match, error) {
	ctx, span := s.tracer.Start(ctx, "recognize.extract")
	bits, err := s.extractor.Extract(ctx, probePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		s.logger.Error(logger.ModuleRecognize, "Extraction failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	span.End()

	_, matchSpan := s.tracer.Start(ctx, "recognize.match", trace.WithAttributes(
		attribute.Int("probe.bits", len(bits)),
		attribute.Int("index.size", s.index.Len()),
	))
	defer matchSpan.End()

	rec, distance, ok := s.index.Nearest(bits)
	if !ok {
		s.logger.Info(logger.ModuleRecognize, "No matching video found", map[string]interface{}{
			"bits":        len(bits),
			"fingerprint": watermark.Fingerprint(bits),
		})
		return nil, apperror.ErrNoMatch
	}

	if _, err := os.Stat(rec.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info(logger.ModuleRecognize, "Matched asset is missing on disk", map[string]interface{}{"path": rec.Path})
			return nil, fmt.Errorf("matched asset %s: %w", rec.Path, apperror.ErrNotFound)
		}
		return nil, fmt.Errorf("stat matched asset: %w", err)
	}

	matchSpan.SetAttributes(attribute.Float64("match.distance", distance))
	s.logger.Info(logger.ModuleRecognize, "Probe matched", map[string]interface{}{
		"path":     rec.Path,
		"distance": distance,
	})

	return &Match{
		Path:        rec.Path,
		ContentType: contentTypeFor(rec.Path),
		FileName:    filepath.Base(rec.Path),
		Distance:    distance,
	}, nil
}

// AnalyzeUpload spools src to scratch storage, analyzes it and removes it.
func (s *recognitionService) AnalyzeUpload(ctx context.Context, src io.Reader) (*Match, error) {
	f, err := os.CreateTemp(s.tempDir, "probe-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create probe file: %w", err)
	}
	probePath := f.Name()
	defer os.Remove(probePath)

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture probe: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("capture probe: %w", err)
	}

	return s.Analyze(ctx, probePath)
}

func contentTypeFor(path string) string {
	if ct := utils.GetMIME(filepath.Ext(path)); ct != "" {
		return ct
	}
	return fiber.MIMEOctetStream
}
