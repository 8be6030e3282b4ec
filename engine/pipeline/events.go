package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/axlelore-kb/pkg/natsutil"
)

// SubjectPrefix is prepended to the stage name of every event subject.
const SubjectPrefix = "kb.stage."

var errNoBuilder = errors.New("pipeline: no knowledge-base builder configured")

// StageEvent announces a completed stage.
type StageEvent struct {
	Vehicle  string         `json:"vehicle"`
	Stage    string         `json:"stage"`
	Counts   map[string]int `json:"counts"`
	Failed   []string       `json:"failed,omitempty"`
	Artifact string         `json:"artifact,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
	At       time.Time      `json:"at"`
}

// Subject is the subject a stage publishes on.
func Subject(stage string) string { return SubjectPrefix + stage }

// Publisher delivers stage events.
type Publisher interface {
	Publish(ctx context.Context, ev StageEvent) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, StageEvent) error { return nil }

// NATSPublisher publishes events on kb.stage.<stage>.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher { return &NATSPublisher{nc: nc} }

func (p *NATSPublisher) Publish(ctx context.Context, ev StageEvent) error {
	return natsutil.Publish(ctx, p.nc, Subject(ev.Stage), ev)
}

// SubscribeEvents calls handler for every stage event until the
// subscription is drained.
func SubscribeEvents(nc *nats.Conn, handler func(context.Context, StageEvent)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, SubjectPrefix+"*", func(ctx context.Context, _ string, ev StageEvent) {
		handler(ctx, ev)
	})
}
