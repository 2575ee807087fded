// Package corenlp provides an annotate.Source backed by a Stanford CoreNLP
// server. If the server is unreachable the client logs a warning and
// reports internalerr.ErrSourceUnavailable so callers can degrade to an
// empty annotation.
package corenlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/internalerr"
)

// Config holds the CoreNLP client settings.
type Config struct {
	BaseURL    string            // e.g. http://localhost:9000
	Properties map[string]string // annotators, ner.model, ...
	Timeout    time.Duration
	Retries    uint64        // extra attempts after a transient failure
	Backoff    time.Duration // first retry delay (default 500ms)
	Logger     *zap.Logger
}

// Client calls the CoreNLP server's annotate endpoint.
type Client struct {
	base     string
	endpoint string
	model    string
	http     *http.Client
	retries  uint64
	backoff  time.Duration
	logger   *zap.Logger
}

// New creates a CoreNLP client. The request properties are fixed at
// construction; outputFormat is always json.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: corenlp base url is required", internalerr.ErrInvalidConfig)
	}

	props := make(map[string]string, len(cfg.Properties)+1)
	for k, v := range cfg.Properties {
		props[k] = v
	}
	props["outputFormat"] = "json"

	encoded, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("corenlp: marshal properties: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:     base,
		endpoint: base + "/?properties=" + url.QueryEscape(string(encoded)),
		model:    cfg.Properties["ner.model"],
		http:     &http.Client{Timeout: timeout},
		retries:  cfg.Retries,
		backoff:  backoff,
		logger:   logger,
	}, nil
}

// Name identifies the source and model, and is part of cache keys.
func (c *Client) Name() string {
	if c.model == "" {
		return "corenlp"
	}
	return "corenlp:" + c.model
}

type response struct {
	Sentences []sentence `json:"sentences"`
}

type sentence struct {
	Tokens         []token   `json:"tokens"`
	EntityMentions []mention `json:"entitymentions"`
}

type token struct {
	Word string `json:"word"`
	NER  string `json:"ner"`
}

type mention struct {
	Text string `json:"text"`
	NER  string `json:"ner"`
}

// Annotate sends text to the server and maps the JSON document onto an
// annotation. Character offsets in the response are ignored. Unreachable
// servers and 5xx or 429 answers are retried with Fibonacci backoff up to
// the configured count. It is safe for concurrent use.
func (c *Client) Annotate(ctx context.Context, text string) (annotate.Annotation, error) {
	var result annotate.Annotation

	b := retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		a, err := c.post(ctx, text)
		if err != nil {
			var se *statusError
			if ctx.Err() == nil && errors.Is(err, internalerr.ErrSourceUnavailable) &&
				(!errors.As(err, &se) || se.retryable()) {
				c.logger.Debug("corenlp: attempt failed", zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return annotate.Annotation{}, ctxErr
		}
		if errors.Is(err, internalerr.ErrSourceUnavailable) {
			c.logger.Warn("corenlp: server unavailable", zap.String("endpoint", c.base), zap.Error(err))
		}
		return annotate.Annotation{}, err
	}
	return result, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

func (e *statusError) Unwrap() error { return internalerr.ErrSourceUnavailable }

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// post performs one annotate request.
func (c *Client) post(ctx context.Context, text string) (annotate.Annotation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(text))
	if err != nil {
		return annotate.Annotation{}, fmt.Errorf("corenlp: request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return annotate.Annotation{}, ctxErr
		}
		return annotate.Annotation{}, fmt.Errorf("%w: %v", internalerr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return annotate.Annotation{}, &statusError{code: resp.StatusCode}
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return annotate.Annotation{}, err
		}
		return annotate.Annotation{}, fmt.Errorf("corenlp: decode: %w", err)
	}

	return result.annotation(), nil
}

func (r response) annotation() annotate.Annotation {
	var a annotate.Annotation
	for _, s := range r.Sentences {
		for _, m := range s.EntityMentions {
			a.Mentions = append(a.Mentions, annotate.Mention{Label: m.NER, Text: m.Text})
		}
		tokens := make([]annotate.Token, 0, len(s.Tokens))
		for _, t := range s.Tokens {
			label := t.NER
			if label == "" {
				label = annotate.Outside
			}
			tokens = append(tokens, annotate.Token{Word: t.Word, Label: label})
		}
		a.Sentences = append(a.Sentences, annotate.Sentence{Tokens: tokens})
	}
	return a
}
