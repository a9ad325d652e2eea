package service

import (
	"context"
	"encoding/json"
	"time"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	sinkTimeout   = 5 * time.Second
	sinkQueueSize = 256
)

// EventSink receives session events from the in-process bus. The WebSocket hub
// and the NATS publisher both satisfy it.
type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// sinkWorker delivers to one sink from its own queue, so a slow sink never
// holds up the bus or the other sinks.
type sinkWorker struct {
	name  string
	sink  EventSink
	queue chan events.SessionEvent
}

type consumerService struct {
	pubSub    message.Subscriber
	topicName string
	workers   []*sinkWorker
	logger    logger.ILogger
}

// NewConsumerService forwards every session event to each named sink. Nil
// sinks are skipped so optional infrastructure can be passed straight through.
func NewConsumerService(
	pubSub message.Subscriber,
	topicName string,
	sinks map[string]EventSink,
	log logger.ILogger,
) IConsumerService {
	var workers []*sinkWorker
	for name, sink := range sinks {
		if sink != nil {
			workers = append(workers, &sinkWorker{
				name:  name,
				sink:  sink,
				queue: make(chan events.SessionEvent, sinkQueueSize),
			})
		}
	}
	return &consumerService{
		pubSub:    pubSub,
		topicName: topicName,
		workers:   workers,
		logger:    log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	for _, w := range cs.workers {
		go cs.deliver(ctx, w)
	}

	go func() {
		for msg := range messages {
			cs.processMessage(msg)
		}
	}()

	return nil
}

// processMessage acks up front and only enqueues: delivery to sinks is
// best-effort. Each sink still sees events in publish order.
func (cs *consumerService) processMessage(msg *message.Message) {
	msg.Ack()

	var event events.SessionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.logger.Error(logger.ModuleEvents, "Failed to unmarshal session event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		return
	}

	for _, w := range cs.workers {
		select {
		case w.queue <- event:
		default:
			cs.logger.Warn(logger.ModuleEvents, "Sink queue full, dropping session event", map[string]interface{}{
				"sink":       w.name,
				"session_id": event.SessionID,
				"status":     event.Status,
			})
		}
	}
}

func (cs *consumerService) deliver(ctx context.Context, w *sinkWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue:
			sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := w.sink.Publish(sinkCtx, event)
			cancel()
			if err != nil {
				cs.logger.Warn(logger.ModuleEvents, "Failed to forward session event", map[string]interface{}{
					"sink":       w.name,
					"session_id": event.SessionID,
					"status":     event.Status,
					"error":      err.Error(),
				})
			}
		}
	}
}
