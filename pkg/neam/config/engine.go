package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/props"
)

// Property keys understood by the annotation engine.
const (
	KeyAnnotators       = "annotators"
	KeyNERModel         = "ner.model"
	KeyNumericClassify  = "ner.applyNumericClassifiers"
	KeyTokenizeKeepEOL  = "tokenize.keepeol"
	KeyTokenizeOptions  = "tokenize.options"
	defaultTokenizeOpts = "asciiQuotes"
)

// DefaultAnnotators is the annotator chain used when none is configured.
var DefaultAnnotators = []string{"tokenize", "ssplit", "pos", "lemma", "ner", "entitymentions"}

// EngineConfig holds the annotation engine properties. Keys without a
// dedicated field travel in Extra.
type EngineConfig struct {
	PropertiesFile          string            `yaml:"properties_file"`
	Annotators              []string          `yaml:"annotators"`
	NERModel                string            `yaml:"ner_model"`
	ApplyNumericClassifiers *bool             `yaml:"apply_numeric_classifiers"`
	TokenizeKeepEOL         *bool             `yaml:"tokenize_keep_eol"`
	TokenizeOptions         string            `yaml:"tokenize_options"`
	Extra                   map[string]string `yaml:"extra"`
}

// ApplyDefaults fills empty fields with the engine defaults.
func (e *EngineConfig) ApplyDefaults() {
	if len(e.Annotators) == 0 {
		e.Annotators = append([]string(nil), DefaultAnnotators...)
	}
	if e.ApplyNumericClassifiers == nil {
		e.ApplyNumericClassifiers = boolPtr(false)
	}
	if e.TokenizeKeepEOL == nil {
		e.TokenizeKeepEOL = boolPtr(true)
	}
	if e.TokenizeOptions == "" {
		e.TokenizeOptions = defaultTokenizeOpts
	}
}

// Merge returns e with every field set in over replacing it.
func (e EngineConfig) Merge(over EngineConfig) EngineConfig {
	out := e
	if over.PropertiesFile != "" {
		out.PropertiesFile = over.PropertiesFile
	}
	if len(over.Annotators) > 0 {
		out.Annotators = append([]string(nil), over.Annotators...)
	}
	if over.NERModel != "" {
		out.NERModel = over.NERModel
	}
	if over.ApplyNumericClassifiers != nil {
		out.ApplyNumericClassifiers = boolPtr(*over.ApplyNumericClassifiers)
	}
	if over.TokenizeKeepEOL != nil {
		out.TokenizeKeepEOL = boolPtr(*over.TokenizeKeepEOL)
	}
	if over.TokenizeOptions != "" {
		out.TokenizeOptions = over.TokenizeOptions
	}
	if len(e.Extra) > 0 || len(over.Extra) > 0 {
		out.Extra = make(map[string]string, len(e.Extra)+len(over.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
		for k, v := range over.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Properties flattens the config into the key-value form the engine
// expects. Extra entries win over typed fields.
func (e EngineConfig) Properties() map[string]string {
	p := make(map[string]string, 5+len(e.Extra))
	if len(e.Annotators) > 0 {
		p[KeyAnnotators] = strings.Join(e.Annotators, ",")
	}
	if e.NERModel != "" {
		p[KeyNERModel] = e.NERModel
	}
	if e.ApplyNumericClassifiers != nil {
		p[KeyNumericClassify] = strconv.FormatBool(*e.ApplyNumericClassifiers)
	}
	if e.TokenizeKeepEOL != nil {
		p[KeyTokenizeKeepEOL] = strconv.FormatBool(*e.TokenizeKeepEOL)
	}
	if e.TokenizeOptions != "" {
		p[KeyTokenizeOptions] = e.TokenizeOptions
	}
	for k, v := range e.Extra {
		p[k] = v
	}
	return p
}

// LoadEngineProperties reads an engine properties file. Only the keys it
// contains are set; call ApplyDefaults or Merge onto a base for the rest.
func LoadEngineProperties(path string) (EngineConfig, error) {
	entries, err := props.LoadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("load engine properties: %w", err)
	}

	var e EngineConfig
	for key, value := range entries {
		switch key {
		case KeyAnnotators:
			for _, a := range strings.Split(value, ",") {
				if a = strings.TrimSpace(a); a != "" {
					e.Annotators = append(e.Annotators, a)
				}
			}
		case KeyNERModel:
			e.NERModel = value
		case KeyNumericClassify, KeyTokenizeKeepEOL:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return EngineConfig{}, fmt.Errorf("%w: %s=%q is not a boolean", internalerr.ErrInvalidConfig, key, value)
			}
			if key == KeyNumericClassify {
				e.ApplyNumericClassifiers = boolPtr(b)
			} else {
				e.TokenizeKeepEOL = boolPtr(b)
			}
		case KeyTokenizeOptions:
			e.TokenizeOptions = value
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]string)
			}
			e.Extra[key] = value
		}
	}
	return e, nil
}

func boolPtr(b bool) *bool { return &b }
