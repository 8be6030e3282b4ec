package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WessleyAI/axlelore-kb/engine/pipeline"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
)

// run executes one command line and returns the process exit code.
// Stage failures are reported, not fatal; only bad input exits non-zero.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, a := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		a.log.Warn("shutdown", "error", cerr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(out, errOut io.Writer) (*cobra.Command, *app) {
	a := newApp(out, errOut)
	var configFile string

	cmd := &cobra.Command{
		Use:           "kb",
		Short:         "Build and query vehicle knowledge bases",
		Long:          "kb scrapes vehicle sources, normalizes them into documents, indexes chunks in Qdrant and exports knowledge packs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, configFile)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	pf := cmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./kb.yaml when present)")
	pf.String("vehicle", "fzj80", "vehicle type")
	pf.String("data-dir", "data", "pipeline data directory")
	pf.String("profile-dir", "config/vehicles", "vehicle profile directory")
	pf.String("qdrant-addr", "localhost:6334", "Qdrant gRPC address")
	pf.String("ollama-host", "", "Ollama base URL")
	pf.String("nats-url", "", "publish stage events to this NATS server")
	pf.String("neo4j-url", "", "record document lineage in this Neo4j database")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.Bool("log-json", false, "log JSON instead of text")
	pf.String("log-file", "", "also log to this rotated file")
	pf.Bool("ocr", false, "OCR scanned manual pages with tesseract")

	cmd.AddCommand(
		newAllCmd(a),
		newScrapeCmd(a),
		newStageCmd(a, pipeline.StageProcess, "Normalize raw data into JSONL documents", func(p *pipeline.Pipeline) stageFunc { return p.Process }),
		newStageCmd(a, pipeline.StageBuild, "Chunk, embed and index the documents", func(p *pipeline.Pipeline) stageFunc { return p.Build }),
		newStageCmd(a, pipeline.StageExport, "Export the knowledge pack", func(p *pipeline.Pipeline) stageFunc { return p.Export }),
		newStatusCmd(a),
		newResetCmd(a),
		newQueryCmd(a),
		newEventsCmd(a),
		newLineageCmd(a),
		newHealthCmd(a),
	)
	return cmd, a
}

// setup loads the configuration, the logger and the vehicle profile, and
// starts the metrics endpoint.
func (a *app) setup(cmd *cobra.Command, configFile string) error {
	cfg, err := loadConfig(viper.New(), configFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, closer, err := newLogger(a.stderr, cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
	if err != nil {
		return err
	}
	a.log = log.With("vehicle", cfg.Vehicle)
	a.onClose(closer.Close)

	a.profiles = vehicle.NewRegistry(cfg.ProfileDir)
	if _, err := a.profiles.Get(cmd.Context(), cfg.Vehicle); err != nil {
		if supported, serr := a.profiles.Supported(); serr == nil && len(supported) > 0 {
			return fmt.Errorf("%w (supported: %v)", err, supported)
		}
		return err
	}
	if a.source != "" {
		if _, err := pipeline.ParseSource(a.source); err != nil {
			return err
		}
	}

	a.metrics = metrics.New()
	if cfg.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, a.log); err != nil {
				a.log.Error("metrics endpoint", "error", err)
			}
		}()
		a.onClose(func() error {
			cancel()
			<-done
			return nil
		})
	}
	return nil
}

// stageFlags registers the flags that steer scraping.
func stageFlags(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	f.StringVar(&a.source, "source", "", "scrape only this source (nhtsa, web, fsm, sor, ih8mud, yaml)")
	f.IntVar(&a.maxThreads, "max-threads", 0, "cap forum threads fetched, 0 for no cap")
	f.BoolVar(&a.indexOnly, "index-only", false, "collect forum thread URLs without fetching them")
	f.BoolVar(&a.noResume, "no-resume", false, "ignore saved scrape checkpoints")
}
