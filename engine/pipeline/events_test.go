package pipeline

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/WessleyAI/axlelore-kb/pkg/natsutil"
)

func TestNATSPublisherRoundTrip(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Shutdown()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := natsutil.Connect(srv.ClientURL(), "pipeline-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	got := make(chan StageEvent, 1)
	sub, err := SubscribeEvents(nc, func(_ context.Context, ev StageEvent) { got <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ev := StageEvent{
		Vehicle:  "fzj80",
		Stage:    StageBuild,
		Counts:   map[string]int{"nhtsa": 12},
		Failed:   []string{"ih8mud"},
		Duration: 3 * time.Second,
		At:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := NewNATSPublisher(nc).Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-got:
		if e.Stage != StageBuild || e.Counts["nhtsa"] != 12 || e.Duration != 3*time.Second || !e.At.Equal(ev.At) {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(StageExport); got != "kb.stage.export" {
		t.Fatalf("Subject = %q", got)
	}
}
