package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cognicore/neam/pkg/neam/internalerr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadEmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Kind != "corenlp" || cfg.Markup.Mode != "span" || cfg.Store.Driver != "sqlite" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Engine.Annotators, DefaultAnnotators) {
		t.Errorf("Expected default annotators, got %v", cfg.Engine.Annotators)
	}
	if cfg.Tags.UseDefaults == nil || !*cfg.Tags.UseDefaults {
		t.Error("default TEI tags should be enabled by default")
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("NEAM_TEST_CORENLP", "http://corenlp:9000")

	path := writeFile(t, "neam.yaml", `
source:
  kind: corenlp
  url: ${NEAM_TEST_CORENLP}
  timeout_sec: 5
engine:
  ner_model: ${NEAM_TEST_MODEL:-english.all.3class.distsim.crf.ser.gz}
tags:
  map:
    GPE: placeName
markup:
  mode: run
  close_trailing: true
  postprocess: [pages, sic]
store:
  driver: memory
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.URL != "http://corenlp:9000" {
		t.Errorf("Expected expanded URL, got %q", cfg.Source.URL)
	}
	if cfg.Engine.NERModel != "english.all.3class.distsim.crf.ser.gz" {
		t.Errorf("Expected default model, got %q", cfg.Engine.NERModel)
	}
	if cfg.Markup.Mode != "run" || !cfg.Markup.CloseTrailing {
		t.Errorf("unexpected markup %+v", cfg.Markup)
	}
	if cfg.Tags.Map["GPE"] != "placeName" {
		t.Errorf("inline tag map not loaded: %v", cfg.Tags.Map)
	}
	if cfg.Source.TimeoutSec != 5 || cfg.HTTP.Addr != ":8080" {
		t.Errorf("defaults should only fill empty fields: %+v %+v", cfg.Source, cfg.HTTP)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "source: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad source", func(c *Config) { c.Source.Kind = "spacy" }},
		{"bad mode", func(c *Config) { c.Markup.Mode = "xml" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"negative retries", func(c *Config) { c.Source.Retries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NEAM_SET", "value")

	got := string(expandEnvVars([]byte("a=${NEAM_SET} b=${NEAM_UNSET_X:-fallback} c=${NEAM_UNSET_X}")))
	if got != "a=value b=fallback c=" {
		t.Errorf("expandEnvVars = %q", got)
	}
}
