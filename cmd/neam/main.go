// Command neam tags named entities in plain-text documents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/neam/internal/logger"
	"github.com/cognicore/neam/internal/server"
	"github.com/cognicore/neam/pkg/neam"
	"github.com/cognicore/neam/pkg/neam/config"
	"github.com/cognicore/neam/pkg/neam/document"
	"github.com/cognicore/neam/pkg/neam/markup"
	"github.com/cognicore/neam/pkg/neam/store"
)

const version = "0.1.0"

// Globals are the flags shared by every command plus the process context.
type Globals struct {
	Config   string `name:"config" short:"c" help:"YAML configuration file" type:"path"`
	LogLevel string `name:"log-level" help:"Override the log level (debug, info, warn, error)"`

	ctx    context.Context `kong:"-"`
	stdout io.Writer       `kong:"-"`
}

// CLI defines the command-line interface for neam.
type CLI struct {
	Globals

	Classify ClassifyCmd `cmd:"" help:"Tag the entities in a document"`
	Batch    BatchCmd    `cmd:"" help:"Tag many documents into a directory"`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server"`
	Runs     RunsGroup   `cmd:"" help:"Inspect the run history"`
	Check    CheckCmd    `cmd:"" help:"Check tag balance and text identity of tagged output"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// setup loads the configuration and builds the logger.
func (g *Globals) setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, nil, err
	}

	level := cfg.Logging.Level
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	log, err := logger.NewLogger(cfg.Logging.Env, level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func (g *Globals) runContext() context.Context {
	if g.ctx == nil {
		return context.Background()
	}
	return g.ctx
}

func (g *Globals) out() io.Writer {
	if g.stdout == nil {
		return os.Stdout
	}
	return g.stdout
}

// MarkupFlags are the reconstruction overrides shared by classify and batch.
type MarkupFlags struct {
	Mode          string   `name:"mode" short:"m" help:"Output mode: span or run (default from config)"`
	LeadingMatch  bool     `name:"leading-match" help:"Allow a mention at the very start of the document to be tagged"`
	CloseTrailing bool     `name:"close-trailing" help:"Close a run left open at the end of the stream"`
	ResolveRuns   bool     `name:"resolve-runs" help:"Name run markers through the tag dictionary"`
	Preprocess    []string `name:"preprocess" sep:"," help:"Processors to apply to the document before annotation (e.g. ascii)"`
	Postprocess   []string `name:"postprocess" sep:"," help:"Post-processors to apply to span output (pages,sic,refs,dates,spaces)"`
	NoStore       bool     `name:"no-store" help:"Do not record runs in the history"`
}

// apply folds the command-line overrides into cfg.
func (f *MarkupFlags) apply(cfg *config.Config) error {
	if f.Mode != "" {
		cfg.Markup.Mode = f.Mode
	}
	switch cfg.Markup.Mode {
	case store.ModeSpan, store.ModeRun:
	default:
		return fmt.Errorf("--mode must be %q or %q, got %q", store.ModeSpan, store.ModeRun, cfg.Markup.Mode)
	}

	cfg.Markup.LeadingMatch = cfg.Markup.LeadingMatch || f.LeadingMatch
	cfg.Markup.CloseTrailing = cfg.Markup.CloseTrailing || f.CloseTrailing
	cfg.Markup.ResolveRuns = cfg.Markup.ResolveRuns || f.ResolveRuns
	if len(f.Preprocess) > 0 {
		cfg.Markup.Preprocess = f.Preprocess
	}
	if len(f.Postprocess) > 0 {
		cfg.Markup.Postprocess = f.Postprocess
	}
	if f.NoStore {
		cfg.Store.Driver = "none"
	}
	return nil
}

// classifyDocument loads path and classifies it in the configured mode. An
// unreadable document is logged and classified as empty text.
func classifyDocument(ctx context.Context, c *neam.Classifier, mode, path string, log *zap.Logger) (store.Run, error) {
	text, err := document.Load(path)
	if err != nil {
		log.Error("document unavailable, classifying empty text", zap.String("path", path), zap.Error(err))
		text = ""
	}

	var run store.Run
	if mode == store.ModeRun {
		run, err = c.ClassifyTokens(ctx, path, text)
	} else {
		run, err = c.Classify(ctx, path, text)
	}
	if err != nil {
		return store.Run{}, err
	}

	log.Info("document classified",
		zap.String("document", path),
		zap.String("run_id", run.ID),
		zap.String("mode", run.Mode),
		zap.Int("entities", len(run.Entities)),
		zap.Int("dropped", run.Dropped))
	return run, nil
}

// ClassifyCmd tags one document and prints the result.
type ClassifyCmd struct {
	Document     string `arg:"" help:"Plain-text document to tag" type:"path"`
	TagConfig    string `arg:"" optional:"" help:"Tag dictionary file (rawLabel=tag)" type:"path"`
	EntityConfig string `arg:"" optional:"" help:"Annotation engine properties file" type:"path"`
	NERModel     string `arg:"" optional:"" name:"ner-model" help:"NER model override"`

	MarkupFlags
}

// Run classifies the document. Unreadable inputs are logged and the command
// carries on with whatever it has, printing the output it produced.
func (c *ClassifyCmd) Run(g *Globals) error {
	cfg, log, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := c.apply(&cfg); err != nil {
		return err
	}

	ctx := g.runContext()
	classifier, cleanup, err := buildClassifier(ctx, cfg, &config.Loader{
		TagsPath:   c.TagConfig,
		EnginePath: c.EntityConfig,
		NERModel:   c.NERModel,
	}, log)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := classifyDocument(ctx, classifier, cfg.Markup.Mode, c.Document, log)
	if err != nil {
		return err
	}

	_, err = io.WriteString(g.out(), run.Output)
	return err
}

// BatchCmd tags many documents concurrently into an output directory.
type BatchCmd struct {
	Documents    []string `arg:"" help:"Plain-text documents to tag"`
	OutDir       string   `name:"out-dir" short:"o" required:"" help:"Directory for tagged output" type:"path"`
	Workers      int      `name:"workers" short:"w" default:"4" help:"Documents classified in parallel"`
	TagConfig    string   `name:"tags" help:"Tag dictionary file (rawLabel=tag)" type:"path"`
	EntityConfig string   `name:"engine" help:"Annotation engine properties file" type:"path"`
	NERModel     string   `name:"ner-model" help:"NER model override"`

	MarkupFlags
}

// outputName maps a document path to its file name in the output directory.
func outputName(path, mode string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if mode == store.ModeRun {
		return base + ".runs"
	}
	return base + ".xml"
}

// Run classifies every document. The first write failure or cancellation
// stops the batch; unreadable documents and engine failures only degrade
// their own output.
func (c *BatchCmd) Run(g *Globals) error {
	cfg, log, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := c.apply(&cfg); err != nil {
		return err
	}

	seen := make(map[string]string, len(c.Documents))
	for _, doc := range c.Documents {
		name := outputName(doc, cfg.Markup.Mode)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s would both be written to %s", prev, doc, name)
		}
		seen[name] = doc
	}

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctx := g.runContext()
	classifier, cleanup, err := buildClassifier(ctx, cfg, &config.Loader{
		TagsPath:   c.TagConfig,
		EnginePath: c.EntityConfig,
		NERModel:   c.NERModel,
	}, log)
	if err != nil {
		return err
	}
	defer cleanup()

	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for _, doc := range c.Documents {
		grp.Go(func() error {
			run, err := classifyDocument(gctx, classifier, cfg.Markup.Mode, doc, log)
			if err != nil {
				return err
			}
			out := filepath.Join(c.OutDir, outputName(doc, cfg.Markup.Mode))
			if err := os.WriteFile(out, []byte(run.Output), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(g.out(), "%d documents tagged into %s\n", len(c.Documents), c.OutDir)
	return err
}

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Addr string `name:"addr" help:"Listen address (default from config)"`
}

// Run serves until the process is interrupted.
func (c *ServeCmd) Run(g *Globals) error {
	cfg, log, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if c.Addr != "" {
		cfg.HTTP.Addr = c.Addr
	}

	ctx := g.runContext()
	classifier, cleanup, err := buildClassifier(ctx, cfg, &config.Loader{}, log)
	if err != nil {
		return err
	}
	defer cleanup()

	return server.New(classifier, log).ListenAndServe(ctx, cfg.HTTP)
}

// RunsGroup contains run history operations.
type RunsGroup struct {
	List RunsListCmd `cmd:"" help:"List recent runs, newest first"`
	Show RunsShowCmd `cmd:"" help:"Print one run"`
}

// RunsListCmd lists recent runs.
type RunsListCmd struct {
	Limit int  `name:"limit" short:"n" default:"20" help:"Maximum number of runs"`
	JSON  bool `name:"json" help:"Print JSON instead of a table"`
}

// Run prints the run table.
func (c *RunsListCmd) Run(g *Globals) error {
	st, cleanup, err := g.openHistory()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := st.ListRuns(g.runContext(), c.Limit)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tDOCUMENT\tSOURCE\tDROPPED\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Mode, r.Document, r.Source, r.Dropped, r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// RunsShowCmd prints one run.
type RunsShowCmd struct {
	ID   string `arg:"" help:"Run ID"`
	JSON bool   `name:"json" help:"Print the full run as JSON"`
}

// Run prints the run output, or the whole record with --json.
func (c *RunsShowCmd) Run(g *Globals) error {
	st, cleanup, err := g.openHistory()
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := st.GetRun(g.runContext(), c.ID)
	if err != nil {
		return fmt.Errorf("run %s: %w", c.ID, err)
	}

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	_, err = io.WriteString(g.out(), run.Output)
	return err
}

var errNoHistory = errors.New("run history is disabled (store.driver: none)")

// openHistory opens the configured store for the runs commands.
func (g *Globals) openHistory() (store.Store, func(), error) {
	cfg, log, err := g.setup()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(g.runContext(), cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, errNoHistory
	}
	return st, func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
		_ = log.Sync()
	}, nil
}

// CheckCmd verifies tagged output.
type CheckCmd struct {
	Tagged   string `arg:"" help:"Tagged document" type:"existingfile"`
	Original string `arg:"" optional:"" help:"Original document; its text must equal the tagged text with tags removed" type:"existingfile"`
}

// Run reports the first problem found, or prints "ok".
func (c *CheckCmd) Run(g *Globals) error {
	tagged, err := os.ReadFile(c.Tagged)
	if err != nil {
		return fmt.Errorf("read tagged document: %w", err)
	}
	if err := markup.CheckBalance(string(tagged)); err != nil {
		return fmt.Errorf("%s: %w", c.Tagged, err)
	}

	if c.Original != "" {
		original, err := os.ReadFile(c.Original)
		if err != nil {
			return fmt.Errorf("read original document: %w", err)
		}
		if at := firstDifference(markup.StripTags(string(tagged)), string(original)); at >= 0 {
			return fmt.Errorf("%s: text differs from %s at byte %d", c.Tagged, c.Original, at)
		}
	}

	_, err = fmt.Fprintln(g.out(), "ok")
	return err
}

// firstDifference returns the first byte offset where a and b differ, or -1.
func firstDifference(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}

// VersionCmd prints the version.
type VersionCmd struct{}

// Run prints the version string.
func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.out(), "neam %s\n", version)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("neam"),
		kong.Description("Named entity markup for plain-text documents"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cli.Globals.ctx = ctx
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}
