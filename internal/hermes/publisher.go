package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Client is the event surface of the broker.
type Client interface {
	CycleCompleted(ctx context.Context, ev CycleCompletedEvent) error
	CycleEmpty(ctx context.Context, ev CycleEmptyEvent) error
	CycleFailed(ctx context.Context, ev CycleFailedEvent) error
	RecommendationCreated(ctx context.Context, ev RecommendationCreatedEvent) error
	Comment(ctx context.Context, ev CommentEvent) error
	// OnCycleRequest calls handler for every well-formed cycle request.
	OnCycleRequest(handler func(CycleRequestEvent)) error
	Close()
}

// Publisher encodes events as JSON and routes them to their subjects.
type Publisher struct {
	t      Transport
	logger *slog.Logger
}

func NewPublisher(t Transport, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{t: t, logger: logger}
}

func (p *Publisher) CycleCompleted(ctx context.Context, ev CycleCompletedEvent) error {
	return p.send(ctx, SubjectCycleCompleted(ev.CycleID), ev)
}

func (p *Publisher) CycleEmpty(ctx context.Context, ev CycleEmptyEvent) error {
	return p.send(ctx, SubjectCycleEmpty(ev.CycleID), ev)
}

func (p *Publisher) CycleFailed(ctx context.Context, ev CycleFailedEvent) error {
	return p.send(ctx, SubjectCycleFailed(ev.CycleID), ev)
}

func (p *Publisher) RecommendationCreated(ctx context.Context, ev RecommendationCreatedEvent) error {
	return p.send(ctx, SubjectRecommendationCreated(ev.RecommendationID), ev)
}

func (p *Publisher) Comment(ctx context.Context, ev CommentEvent) error {
	return p.send(ctx, SubjectComment(ev.CycleID), ev)
}

func (p *Publisher) OnCycleRequest(handler func(CycleRequestEvent)) error {
	return p.t.Subscribe(SubjectCycleRequest, func(_ string, data []byte) {
		var req CycleRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			p.logger.Warn("invalid cycle request", "error", err)
			return
		}
		handler(req)
	})
}

func (p *Publisher) Close() { p.t.Close() }

func (p *Publisher) send(ctx context.Context, subject string, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	return p.t.Publish(ctx, subject, payload)
}
