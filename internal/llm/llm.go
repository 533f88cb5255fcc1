// Package llm wraps the hosted text-generation providers behind one
// JSON-returning call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "gemma2-9b-it"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultClaudeModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Caller sends one system instruction and one user turn and returns the raw
// text the model produced.
type Caller interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

func (f failureClass) String() string {
	switch f {
	case failureNone:
		return "ok"
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limited"
	case failureClient:
		return "client_error"
	default:
		return "server_error"
	}
}

var latency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pharmagpt",
		Name:      "llm_latency_seconds",
		Help:      "Latency of extraction calls to the LLM provider",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60},
	},
	[]string{"provider", "status"},
)

func init() {
	prometheus.MustRegister(latency)
}

var tracer = otel.Tracer("github.com/joelkehle/pharmagpt/internal/llm")

// New builds the caller for cfg.Provider, wrapped with latency metrics and a
// trace span per call.
func New(ctx context.Context, cfg Config) (Caller, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s api key not configured", cfg.Provider)
	}
	var (
		c   Caller
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGroq, "":
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultGroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultGroqModel
		}
		c = NewOpenAICaller(cfg)
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		c = NewOpenAICaller(cfg)
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = DefaultClaudeModel
		}
		c = NewAnthropicCaller(cfg)
	case ProviderGemini:
		if cfg.Model == "" {
			cfg.Model = DefaultGeminiModel
		}
		c, err = NewGeminiCaller(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(cfg.Provider, cfg.Model, cfg.Timeout, c), nil
}

// Instrument adds the per-call timeout, the latency histogram and a span
// around c.
func Instrument(provider, model string, timeout time.Duration, c Caller) Caller {
	if provider == "" {
		provider = ProviderGroq
	}
	return &instrumented{provider: provider, model: model, timeout: timeout, next: c}
}

type instrumented struct {
	provider string
	model    string
	timeout  time.Duration
	next     Caller
}

func (i *instrumented) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", i.provider),
		attribute.String("llm.model", i.model),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := i.next.GenerateJSON(ctx, system, prompt)
	class := failureNone
	if err != nil {
		class = classifyTransportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, class.String())
	}
	latency.WithLabelValues(i.provider, class.String()).Observe(time.Since(started).Seconds())
	if err != nil {
		return "", &TransportError{Provider: i.provider, Class: class.String(), Err: err}
	}
	return out, nil
}

type TransportError struct {
	Provider string
	Class    string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Class, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the provider call ran out of time.
func (e *TransportError) Timeout() bool { return e.Class == failureTimeout.String() }

func classifyTransportError(err error) failureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "status=5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4") || strings.Contains(msg, "status=4"):
		return failureClient
	default:
		return failureServer
	}
}
