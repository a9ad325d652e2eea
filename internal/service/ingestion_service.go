package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/events"
	"watermark-gateway/pkg/mlbackend"
	"watermark-gateway/pkg/store"
	"watermark-gateway/pkg/watermark"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	stageUpload    = "upload"
	stageEmbedding = "embedding"
	stageSigning   = "signing"
	stageIngestion = "ingestion"
)

// SessionRegistry is satisfied by memory.SessionRepository.
type SessionRegistry interface {
	Create(id string) model.Session
	Advance(id string, status model.SessionStatus, errMsg string) bool
	Get(id string) model.Session
	Count() int
}

// WatermarkIndex is satisfied by store.WatermarkStore.
type WatermarkIndex interface {
	Put(fingerprint string, rec store.Record)
	Nearest(probe watermark.BitVector) (store.Record, float64, bool)
	Persist() error
	Len() int
}

type Embedder interface {
	Embed(ctx context.Context, videoPath string) (*mlbackend.EmbedResult, error)
}

type ManifestSigner interface {
	Sign(ctx context.Context, videoPath string, bits watermark.BitVector, destPath string) (string, error)
}

type IIngestionService interface {
	Begin() model.Session
	Capture(sessionID string, src io.Reader) (string, error)
	Dispatch(sessionID, inputPath string) *Task
	Status(sessionID string) model.Session
	AssetPath(sessionID string) string
	Wait(ctx context.Context) error
}

// Task is the handle of one dispatched unit of work.
type Task struct {
	SessionID string
	done      chan struct{}
	err       error
}

// Done is closed once the session reached completed or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err is the failure that ended the session; only meaningful after Done.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type IngestionConfig struct {
	TempDir      string
	ProcessedDir string
}

type ingestionService struct {
	cfg       IngestionConfig
	sessions  SessionRegistry
	embedder  Embedder
	signer    ManifestSigner
	index     WatermarkIndex
	publisher IPublisherService
	logger    logger.ILogger
	tracer    trace.Tracer

	inflight sync.WaitGroup
}

func NewIngestionService(
	cfg IngestionConfig,
	sessions SessionRegistry,
	embedder Embedder,
	signer ManifestSigner,
	index WatermarkIndex,
	publisher IPublisherService,
	log logger.ILogger,
) IIngestionService {
	return &ingestionService{
		cfg:       cfg,
		sessions:  sessions,
		embedder:  embedder,
		signer:    signer,
		index:     index,
		publisher: publisher,
		logger:    log,
		tracer:    otel.Tracer("watermark-gateway/ingestion"),
	}
}

func (s *ingestionService) Begin() model.Session {
	session := s.sessions.Create(uuid.NewString())
	s.publish(session)
	return session
}

// Capture writes the upload body to scratch storage. A failure ends the
// session.
func (s *ingestionService) Capture(sessionID string, src io.Reader) (string, error) {
	path := filepath.Join(s.cfg.TempDir, sessionID+"_input.mp4")

	err := func() error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, src); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}()
	if err != nil {
		os.Remove(path)
		s.fail(sessionID, stageUpload, err)
		return "", fmt.Errorf("capture upload: %w", err)
	}

	return path, nil
}

// Dispatch moves the session to processing and runs the pipeline in the
// background. The returned task is never cancelled.
func (s *ingestionService) Dispatch(sessionID, inputPath string) *Task {
	task := &Task{SessionID: sessionID, done: make(chan struct{})}

	s.transition(sessionID, model.SessionProcessing, "")

	s.inflight.Add(1)
	go s.run(task, inputPath)

	return task
}

func (s *ingestionService) Status(sessionID string) model.Session {
	return s.sessions.Get(sessionID)
}

func (s *ingestionService) AssetPath(sessionID string) string {
	return filepath.Join(s.cfg.ProcessedDir, sessionID+".mp4")
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (s *ingestionService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ingestionService) run(task *Task, inputPath string) {
	defer s.inflight.Done()
	defer close(task.done)
	defer func() {
		if r := recover(); r != nil {
			task.err = fmt.Errorf("panic: %v", r)
			s.fail(task.SessionID, stageIngestion, task.err)
		}
	}()
	defer os.Remove(inputPath)

	ctx, span := s.tracer.Start(context.Background(), "ingest.session",
		trace.WithAttributes(attribute.String("session.id", task.SessionID)))
	defer span.End()

	started := time.Now()
	if err := s.process(ctx, task.SessionID, inputPath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		task.err = err
		return
	}

	s.transition(task.SessionID, model.SessionCompleted, "")
	s.logger.Info(logger.ModuleIngest, "Session completed", map[string]interface{}{
		"session_id": task.SessionID,
		"duration":   time.Since(started).String(),
	})
}

func (s *ingestionService) process(ctx context.Context, sessionID, inputPath string) error {
	embedCtx, embedSpan := s.tracer.Start(ctx, "ingest.embed")
	embedded, err := s.embedder.Embed(embedCtx, inputPath)
	embedSpan.End()
	if err != nil {
		return s.fail(sessionID, stageEmbedding, err)
	}
	defer os.Remove(embedded.VideoPath)

	signCtx, signSpan := s.tracer.Start(ctx, "ingest.sign")
	assetPath, err := s.signer.Sign(signCtx, embedded.VideoPath, embedded.Bits, s.AssetPath(sessionID))
	signSpan.End()
	if err != nil {
		return s.fail(sessionID, stageSigning, err)
	}

	_, indexSpan := s.tracer.Start(ctx, "ingest.index")
	fingerprint := watermark.Fingerprint(embedded.Bits)
	s.index.Put(fingerprint, store.Record{Path: assetPath, MessageBits: embedded.Bits})
	indexSpan.End()

	// The record stays in memory even if the snapshot fails; the next
	// successful Persist carries it.
	if err := s.index.Persist(); err != nil {
		s.logger.Error(logger.ModuleStore, "Failed to persist watermark index", map[string]interface{}{
			"session_id":  sessionID,
			"fingerprint": fingerprint,
			"error":       err.Error(),
		})
	}

	s.logger.Info(logger.ModuleIngest, "Asset indexed", map[string]interface{}{
		"session_id":  sessionID,
		"fingerprint": fingerprint,
		"path":        assetPath,
		"bits":        len(embedded.Bits),
	})
	return nil
}

// fail marks the session failed with "<stage> failed: <detail>" and returns
// the error it recorded.
func (s *ingestionService) fail(sessionID, stage string, err error) error {
	wrapped := fmt.Errorf("%s failed: %w", stage, err)
	s.logger.Error(logger.ModuleIngest, "Session failed", map[string]interface{}{
		"session_id": sessionID,
		"stage":      stage,
		"error":      err.Error(),
	})
	s.transition(sessionID, model.SessionFailed, wrapped.Error())
	return wrapped
}

func (s *ingestionService) transition(sessionID string, status model.SessionStatus, errMsg string) {
	if !s.sessions.Advance(sessionID, status, errMsg) {
		return
	}
	s.publish(s.sessions.Get(sessionID))
}

func (s *ingestionService) publish(session model.Session) {
	event := events.SessionEvent{
		SessionID:  session.ID,
		Status:     string(session.Status),
		Error:      session.Error,
		OccurredAt: session.UpdatedAt,
	}
	if err := s.publisher.PublishSessionEvent(context.Background(), event); err != nil {
		s.logger.Warn(logger.ModuleEvents, "Failed to publish session event", map[string]interface{}{
			"session_id": session.ID,
			"status":     session.Status,
			"error":      err.Error(),
		})
	}
}
