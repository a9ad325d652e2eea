package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"watermark-gateway/internal/config"
	"watermark-gateway/internal/controller"
	"watermark-gateway/internal/handler"
	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/internal/pkg/mailer"
	"watermark-gateway/internal/repository/memory"
	"watermark-gateway/internal/service"
	"watermark-gateway/internal/websocket"
	"watermark-gateway/pkg/mlbackend"
	"watermark-gateway/pkg/provenance"
	"watermark-gateway/pkg/store"

	pktNats "watermark-gateway/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	VideoController controller.IVideoController
	StatusHandler   *handler.StatusHandler

	// Background Services (Exposed for main.go to run)
	ConsumerService  service.IConsumerService
	IngestionService service.IIngestionService
	WebSocketHub     *websocket.Hub

	// State (exposed for health reporting)
	Sessions *memory.SessionRepository
	Index    *store.WatermarkStore

	Logger logger.ILogger

	closers []func()
}

func NewContainer(cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	c := &Container{Logger: sysLogger}

	// 1. Directories
	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.TempDir, cfg.Storage.ProcessedDir, filepath.Dir(cfg.Storage.StoreFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// 2. Signing identity, built once and shared read-only
	identity, err := loadIdentity(cfg, sysLogger)
	if err != nil {
		return nil, err
	}

	// 3. Watermark index
	index := store.NewWatermarkStore(cfg.Storage.StoreFile)
	if err := index.Load(); err != nil {
		sysLogger.Error(logger.ModuleStore, "Failed to load watermark index, starting empty", map[string]interface{}{
			"path":  cfg.Storage.StoreFile,
			"error": err.Error(),
		})
	} else {
		sysLogger.Info(logger.ModuleStore, "Watermark index loaded", map[string]interface{}{
			"path":    cfg.Storage.StoreFile,
			"records": index.Len(),
		})
	}
	c.Index = index

	// 4. Session registry
	c.Sessions = memory.NewSessionRepository(cfg.App.SessionTTL, sysLogger)

	// 5. ML backend delegates
	mlClient, err := mlbackend.NewClient(mlbackend.Config{
		BaseURL:      cfg.MLBackend.BaseURL,
		EmbedPath:    cfg.MLBackend.EmbedPath,
		ExtractPath:  cfg.MLBackend.ExtractPath,
		ScratchDir:   cfg.Storage.TempDir,
		Timeout:      cfg.MLBackend.Timeout,
		ExpectedBits: cfg.MLBackend.WatermarkBits,
	}, &http.Client{})
	if err != nil {
		return nil, err
	}

	// 6. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { pubSub.Close() })

	// 7. Optional infrastructure
	var rdb *redis.Client
	if cfg.Events.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Events.RedisURL)
		if err != nil {
			sysLogger.Warn(logger.ModuleEvents, "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.Events.RedisURL}
		}
		rdb = redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			sysLogger.Warn(logger.ModuleEvents, "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		cancel()
		c.closers = append(c.closers, func() { rdb.Close() })
	}

	sinks := map[string]service.EventSink{}

	if cfg.Events.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Events.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn(logger.ModuleEvents, "Failed to connect to NATS Publisher", map[string]interface{}{"error": err.Error()})
		} else {
			sinks["nats"] = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	if cfg.SMTP.AlertsEnabled() {
		sinks["mail"] = mailer.NewAlertService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Email, cfg.SMTP.Password, cfg.SMTP.Email, cfg.SMTP.AlertTo)
		sysLogger.Info(logger.ModuleEvents, "Failure alerts enabled", map[string]interface{}{"recipients": len(cfg.SMTP.AlertTo)})
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(filepath.Join(filepath.Dir(cfg.App.LogFilePath), "ws.log"))
	c.WebSocketHub = websocket.NewHub(rdb, "", wsLogger)
	sinks["websocket"] = c.WebSocketHub
	c.closers = append(c.closers, func() { wsLogger.Sync() })

	// 8. Services
	publisherService := service.NewPublisherService(cfg.Events.Topic, pubSub)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.Events.Topic, sinks, sysLogger)

	c.IngestionService = service.NewIngestionService(
		service.IngestionConfig{
			TempDir:      cfg.Storage.TempDir,
			ProcessedDir: cfg.Storage.ProcessedDir,
		},
		c.Sessions,
		mlClient,
		provenance.NewSigner(identity, cfg.Storage.TempDir),
		index,
		publisherService,
		sysLogger,
	)
	recognitionService := service.NewRecognitionService(cfg.Storage.TempDir, mlClient, index, sysLogger)

	// 9. Controllers
	c.VideoController = controller.NewVideoController(c.IngestionService, recognitionService)
	c.StatusHandler = handler.NewStatusHandler(c.IngestionService, c.WebSocketHub, wsLogger)

	return c, nil
}

// Close releases bus and broker connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func loadIdentity(cfg *config.Config, sysLogger logger.ILogger) (*provenance.Identity, error) {
	if cfg.Signing.PrivateKeyPath != "" {
		identity, err := provenance.LoadIdentity(cfg.Signing.PrivateKeyPath, cfg.Signing.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load signing identity: %w", err)
		}
		return identity, nil
	}

	if cfg.IsProduction() {
		return nil, fmt.Errorf("load signing identity: SIGNING_PRIVATE_KEY_PATH is not set")
	}

	sysLogger.Warn(logger.ModuleIngest, "No signing key configured, using an ephemeral Ed25519 identity", nil)
	return provenance.GenerateIdentity()
}
