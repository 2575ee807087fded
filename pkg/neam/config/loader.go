package config

import (
	"go.uber.org/zap"

	"github.com/cognicore/neam/pkg/neam/markup"
	"github.com/cognicore/neam/pkg/neam/process"
	"github.com/cognicore/neam/pkg/neam/tagdict"
)

// Loader builds the classification components from a Config. Path fields
// override the matching config entries (the CLI passes its positional
// arguments here).
type Loader struct {
	Config     Config
	TagsPath   string
	EnginePath string
	NERModel   string
	Logger     *zap.Logger
}

// Components holds all loaded configuration components
type Components struct {
	Dict        *tagdict.Dict
	Engine      EngineConfig
	Preprocess  *process.Pipeline
	Pipeline    *process.Pipeline
	SpanOptions []markup.SpanOption
	RunOptions  []markup.RunOption
}

// Load builds every component. It never fails: a file that cannot be read
// is logged and the component falls back to its degraded form.
func (l *Loader) Load() *Components {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	comp := &Components{
		Dict:       l.loadDict(logger),
		Engine:     l.loadEngine(logger),
		Preprocess: loadPipeline(logger, "pre-processing", l.Config.Markup.Preprocess),
		Pipeline:   loadPipeline(logger, "post-processing", l.Config.Markup.Postprocess),
	}

	m := l.Config.Markup
	if m.LeadingMatch {
		comp.SpanOptions = append(comp.SpanOptions, markup.WithLeadingMatch())
	}
	if m.CloseTrailing {
		comp.RunOptions = append(comp.RunOptions, markup.WithCloseTrailing())
	}
	if m.ResolveRuns {
		comp.RunOptions = append(comp.RunOptions, markup.WithResolvedLabels(comp.Dict))
	}

	return comp
}

// loadDict reads the tag file when one is configured. A file that cannot be
// loaded leaves an empty dictionary, so every label passes through.
func (l *Loader) loadDict(logger *zap.Logger) *tagdict.Dict {
	path := l.TagsPath
	if path == "" {
		path = l.Config.Tags.File
	}

	var dict *tagdict.Dict
	switch {
	case path != "":
		loaded, err := tagdict.LoadFile(path)
		if err != nil {
			logger.Warn("tag dictionary unavailable, labels pass through",
				zap.String("path", path), zap.Error(err))
			loaded = tagdict.New(nil)
		}
		dict = loaded
	case l.Config.Tags.UseDefaults == nil || *l.Config.Tags.UseDefaults:
		dict = tagdict.Default()
	default:
		dict = tagdict.New(nil)
	}

	if len(l.Config.Tags.Map) > 0 {
		dict.Merge(tagdict.New(l.Config.Tags.Map))
	}
	return dict
}

func (l *Loader) loadEngine(logger *zap.Logger) EngineConfig {
	engine := l.Config.Engine
	engine.ApplyDefaults()

	path := l.EnginePath
	if path == "" {
		path = engine.PropertiesFile
	}
	if path != "" {
		fromFile, err := LoadEngineProperties(path)
		if err != nil {
			logger.Warn("engine properties unavailable, using defaults",
				zap.String("path", path), zap.Error(err))
		} else {
			engine = engine.Merge(fromFile)
		}
	}

	if l.NERModel != "" {
		engine.NERModel = l.NERModel
	}
	return engine
}

// loadPipeline builds a processor pipeline. An unknown processor name
// disables that whole pipeline.
func loadPipeline(logger *zap.Logger, stage string, names []string) *process.Pipeline {
	if len(names) == 0 {
		return nil
	}
	p, err := process.FromNames(names)
	if err != nil {
		logger.Warn(stage+" disabled", zap.Strings("processors", names), zap.Error(err))
		return nil
	}
	return p
}
