package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/pipeline"
	"github.com/WessleyAI/axlelore-kb/engine/retrieval"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
	"github.com/WessleyAI/axlelore-kb/pkg/ollama"
)

var errUnhealthy = errors.New("unhealthy")

type stageFunc func(context.Context) (pipeline.Report, error)

func (a *app) printReports(start time.Time, reps ...pipeline.Report) {
	for _, r := range reps {
		pipeline.PrintReport(a.stdout, r)
	}
	fmt.Fprintf(a.stdout, "\nCompleted in %.1fs\n", time.Since(start).Seconds())
}

func newAllCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run scrape, process, build and export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			p, err := a.pipe.Get(cmd.Context())
			if err != nil {
				return err
			}
			reps, err := p.All(cmd.Context(), a.source)
			a.printReports(start, reps...)
			return err
		},
	}
	stageFlags(cmd, a)
	return cmd
}

func newScrapeCmd(a *app) *cobra.Command {
	cmd := newStageCmd(a, pipeline.StageScrape, "Fetch raw data from the sources", func(p *pipeline.Pipeline) stageFunc {
		return func(ctx context.Context) (pipeline.Report, error) { return p.Scrape(ctx, a.source) }
	})
	stageFlags(cmd, a)
	return cmd
}

func newStageCmd(a *app, stage, short string, pick func(*pipeline.Pipeline) stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			p, err := a.pipe.Get(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := pick(p)(cmd.Context())
			if err != nil {
				a.log.Error("stage failed", "stage", stage, "error", err)
			}
			a.printReports(start, rep)
			return cmd.Context().Err()
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipe.Get(cmd.Context())
			if err != nil {
				return err
			}
			p.Status(cmd.Context()).Print(a.stdout)
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <scraper>...",
		Short: "Clear saved scrape checkpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipe.Get(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.Reset(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "reset %s\n", strings.Join(args, ", "))
			return nil
		},
	}
}

type queryFlags struct {
	categories []string
	topK       int
	threshold  float64
	answer     bool
	stream     bool
	year       int
	nickname   string
	mileage    int
	mods       []string
}

func (f queryFlags) vehicleContext() *vehicle.Context {
	if f.year == 0 && f.nickname == "" && f.mileage == 0 && len(f.mods) == 0 {
		return nil
	}
	return &vehicle.Context{Year: f.year, Nickname: f.nickname, Mileage: f.mileage, Mods: f.mods}
}

func parseCategories(names []string) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(names))
	for _, n := range names {
		c := domain.Category(strings.TrimSpace(n))
		if !c.Valid() {
			return nil, domain.NewValidationError("category", n, domain.ErrBadCategory)
		}
		out = append(out, c)
	}
	return out, nil
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve knowledge for a question, optionally answering it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")
			cats, err := parseCategories(f.categories)
			if err != nil {
				return err
			}
			if f.threshold < 0 || f.threshold > 1 {
				return domain.NewValidationError("threshold", fmt.Sprint(f.threshold), domain.ErrInvalidInput)
			}
			router, err := a.router.Get(ctx)
			if err != nil {
				return err
			}
			opts := retrieval.Options{Categories: cats, TopK: f.topK}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = retrieval.Threshold(f.threshold)
			}
			rc, err := router.Assemble(ctx, question, a.cfg.Vehicle, f.vehicleContext(), opts)
			if err != nil {
				return err
			}
			if !f.answer {
				printChunks(a, rc)
				return nil
			}
			return a.answer(ctx, question, rc, f.stream)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&f.categories, "category", nil, "search only these categories")
	fl.IntVar(&f.topK, "top-k", 0, "chunks to return (default from config)")
	fl.Float64Var(&f.threshold, "threshold", 0, "minimum similarity (default from config)")
	fl.BoolVar(&f.answer, "answer", false, "answer the question with the local model")
	fl.BoolVar(&f.stream, "stream", false, "stream the answer as it is generated")
	fl.IntVar(&f.year, "year", 0, "model year of the owner's vehicle")
	fl.StringVar(&f.nickname, "nickname", "", "nickname of the owner's vehicle")
	fl.IntVar(&f.mileage, "mileage", 0, "current mileage")
	fl.StringSliceVar(&f.mods, "mods", nil, "installed modifications")
	return cmd
}

func printChunks(a *app, rc retrieval.Context) {
	if len(rc.Chunks) == 0 {
		fmt.Fprintln(a.stdout, "No relevant knowledge found.")
		return
	}
	for i, c := range rc.Chunks {
		text := strings.Join(strings.Fields(c.Text), " ")
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Fprintf(a.stdout, "[%d] %s/%s  score=%.3f  %s\n    %s\n", i+1, c.Category, c.Source, c.Score, c.SourceID, text)
	}
}

func (a *app) answer(ctx context.Context, question string, rc retrieval.Context, stream bool) error {
	llm, err := a.llm.Get(ctx)
	if err != nil {
		return err
	}
	p, err := a.profiles.Get(ctx, a.cfg.Vehicle)
	if err != nil {
		return err
	}
	system := retrieval.SystemPrompt(p.Name, rc)
	if !stream {
		c, err := llm.Complete(ctx, question, system, ollama.GenerateOpts{})
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, c.Content)
		a.log.Debug("answered", "model", c.Model, "tokens", c.TokensUsed, "chunks", len(rc.Chunks))
		return nil
	}
	tokens, errs := llm.Stream(ctx, question, system, ollama.GenerateOpts{})
	for t := range tokens {
		fmt.Fprint(a.stdout, t)
	}
	fmt.Fprintln(a.stdout)
	return <-errs
}

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print stage events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.NATSURL == "" {
				return domain.NewValidationError("nats_url", "", domain.ErrInvalidInput)
			}
			nc, err := a.nats.Get(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			sub, err := pipeline.SubscribeEvents(nc, func(_ context.Context, ev pipeline.StageEvent) {
				enc.Encode(ev)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			a.log.Info("listening for stage events", "subject", pipeline.SubjectPrefix+"*")
			<-ctx.Done()
			return nil
		},
	}
}

func newLineageCmd(a *app) *cobra.Command {
	var (
		source string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show indexed documents recorded in the lineage graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			g, err := a.graph.Get(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if source == "" {
				counts, err := g.SourceCounts(ctx, a.cfg.Vehicle)
				if err != nil {
					return err
				}
				for _, src := range domain.Sources {
					if n, ok := counts[string(src)]; ok {
						fmt.Fprintf(tw, "%s\t%d\n", src, n)
					}
				}
				return nil
			}
			src, err := pipeline.ParseSource(source)
			if err != nil {
				return err
			}
			docs, err := g.Documents(ctx, a.cfg.Vehicle, src, limit)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", d.SourceID, d.Category, d.Quality, d.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "list documents of this source")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum documents listed")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check Ollama and the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			ok := true

			llm, _ := a.llm.Get(ctx)
			models, err := llm.Healthy(ctx)
			if err != nil {
				ok = false
				fmt.Fprintf(a.stdout, "ollama  %s  DOWN  %v\n", a.cfg.OllamaHost, err)
			} else {
				fmt.Fprintf(a.stdout, "ollama  %s  ok  models=%s\n", a.cfg.OllamaHost, strings.Join(models, ","))
			}

			store, err := a.store.Get(ctx)
			if err == nil {
				var names []string
				if names, err = store.Collections(ctx); err == nil {
					fmt.Fprintf(a.stdout, "qdrant  %s  ok  collections=%d\n", a.cfg.QdrantAddr, len(names))
				}
			}
			if err != nil {
				ok = false
				fmt.Fprintf(a.stdout, "qdrant  %s  DOWN  %v\n", a.cfg.QdrantAddr, err)
			}
			if !ok {
				return errUnhealthy
			}
			return nil
		},
	}
}
