package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/axlelore-kb/engine/chunk"
	"github.com/WessleyAI/axlelore-kb/engine/kb"
	"github.com/WessleyAI/axlelore-kb/engine/lineage"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
	"github.com/WessleyAI/axlelore-kb/engine/pipeline"
	"github.com/WessleyAI/axlelore-kb/engine/retrieval"
	"github.com/WessleyAI/axlelore-kb/engine/semantic"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
	"github.com/WessleyAI/axlelore-kb/pkg/lazy"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
	"github.com/WessleyAI/axlelore-kb/pkg/natsutil"
	"github.com/WessleyAI/axlelore-kb/pkg/ollama"
	"github.com/WessleyAI/axlelore-kb/pkg/repo"
)

var errNoNeo4j = errors.New("lineage needs --neo4j-url")

// app holds the configuration and the services of one invocation. Every
// service is dialed on first use.
type app struct {
	cfg     Config
	stdout  io.Writer
	stderr  io.Writer
	log     *slog.Logger
	metrics *metrics.Registry

	// stage flags
	source     string
	maxThreads int
	indexOnly  bool
	noResume   bool

	profiles *vehicle.Registry
	store    *lazy.Value[*semantic.VectorStore]
	llm      *lazy.Value[*ollama.Client]
	nats     *lazy.Value[*nats.Conn]
	graph    *lazy.Value[*lineage.Graph]
	builder  *lazy.Value[*kb.Builder]
	router   *lazy.Value[*retrieval.Router]
	pipe     *lazy.Value[*pipeline.Pipeline]

	mu      sync.Mutex
	closers []func() error
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{stdout: stdout, stderr: stderr, log: slog.Default()}
	a.store = lazy.New(a.dialStore)
	a.llm = lazy.New(a.newLLM)
	a.nats = lazy.New(a.dialNATS)
	a.graph = lazy.New(a.dialGraph)
	a.builder = lazy.New(a.newBuilder)
	a.router = lazy.New(a.newRouter)
	a.pipe = lazy.New(a.newPipeline)
	return a
}

func (a *app) onClose(f func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, f)
	a.mu.Unlock()
}

// close releases services in reverse order of creation.
func (a *app) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) layout() pipeline.Layout { return pipeline.Layout{DataDir: a.cfg.DataDir} }

func (a *app) dialStore(context.Context) (*semantic.VectorStore, error) {
	s, err := semantic.New(a.cfg.QdrantAddr)
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close)
	return s, nil
}

func (a *app) newLLM(context.Context) (*ollama.Client, error) {
	return ollama.New(ollama.Options{
		Host:          a.cfg.OllamaHost,
		Model:         a.cfg.Model,
		FallbackModel: a.cfg.FallbackModel,
		EmbedModel:    a.cfg.EmbedModel,
		Timeout:       a.cfg.OllamaTimeout,
		Logger:        a.log,
	}), nil
}

func (a *app) dialNATS(context.Context) (*nats.Conn, error) {
	nc, err := natsutil.Connect(a.cfg.NATSURL, "kb", a.log)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { return nc.Drain() })
	return nc, nil
}

func (a *app) dialGraph(ctx context.Context) (*lineage.Graph, error) {
	if a.cfg.Neo4jURL == "" {
		return nil, errNoNeo4j
	}
	driver, err := neo4j.NewDriverWithContext(a.cfg.Neo4jURL, neo4j.BasicAuth(a.cfg.Neo4jUser, a.cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j %s: %w", a.cfg.Neo4jURL, err)
	}
	a.onClose(func() error { return driver.Close(context.Background()) })
	return lineage.New(repo.FromDriver(driver), a.log), nil
}

func (a *app) newBuilder(ctx context.Context) (*kb.Builder, error) {
	store, err := a.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	llm, err := a.llm.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := kb.Options{
		BatchSize:      a.cfg.EmbedBatch,
		EmbeddingModel: llm.EmbedModel(),
		PersistDir:     a.layout().StoreDir(),
		Chunker: chunk.NewRegistry(chunk.Options{
			Size:    a.cfg.ChunkSize,
			Overlap: a.cfg.ChunkOverlap,
			MinSize: a.cfg.MinChunk,
		}),
		Metrics: a.metrics,
		Logger:  a.log,
	}
	if a.cfg.Neo4jURL != "" {
		g, err := a.graph.Get(ctx)
		if err != nil {
			a.log.Warn("lineage disabled", "error", err)
		} else {
			opts.Lineage = g
		}
	}
	return kb.New(store, llm, opts), nil
}

func (a *app) newRouter(ctx context.Context) (*retrieval.Router, error) {
	store, err := a.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	llm, err := a.llm.Get(ctx)
	if err != nil {
		return nil, err
	}
	return retrieval.NewRouter(a.profiles, store, llm, retrieval.RouterOpts{
		Defaults: retrieval.Options{TopK: a.cfg.TopK, Threshold: retrieval.Threshold(a.cfg.Threshold)},
		Metrics:  a.metrics,
		Logger:   a.log,
	}), nil
}

func (a *app) newPipeline(context.Context) (*pipeline.Pipeline, error) {
	cfg := pipeline.Config{
		Vehicle:    a.cfg.Vehicle,
		Version:    a.cfg.PackVersion,
		MaxThreads: a.maxThreads,
		IndexOnly:  a.indexOnly,
		NoResume:   a.noResume,
	}
	if a.cfg.OCR {
		cfg.OCR = normalize.Tesseract{}
	}
	opts := pipeline.Options{
		Profiles: a.profiles,
		Builder: func(ctx context.Context) (pipeline.Builder, error) {
			b, err := a.builder.Get(ctx)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
		Metrics: a.metrics,
		Logger:  a.log,
	}
	if a.cfg.NATSURL != "" {
		opts.Events = natsEvents{a.nats}
	}
	if a.cfg.Neo4jURL != "" {
		opts.Lineage = graphCounts{a.graph}
	}
	p := pipeline.New(cfg, a.layout(), opts)
	a.onClose(p.Close)
	return p, nil
}

// natsEvents connects on the first event.
type natsEvents struct{ conn *lazy.Value[*nats.Conn] }

func (e natsEvents) Publish(ctx context.Context, ev pipeline.StageEvent) error {
	nc, err := e.conn.Get(ctx)
	if err != nil {
		return err
	}
	return pipeline.NewNATSPublisher(nc).Publish(ctx, ev)
}

// graphCounts connects to the lineage graph on the first status read.
type graphCounts struct{ graph *lazy.Value[*lineage.Graph] }

func (g graphCounts) SourceCounts(ctx context.Context, vehicle string) (map[string]int, error) {
	gr, err := g.graph.Get(ctx)
	if err != nil {
		return nil, err
	}
	return gr.SourceCounts(ctx, vehicle)
}
