package triage

import (
	"context"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/linnemanlabs/casewise/internal/triage"

// DefaultLLMTimeout bounds a single model call.
const DefaultLLMTimeout = 60 * time.Second

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// EngineHooks are optional callbacks fired during a run. Nil hooks are skipped.
type EngineHooks struct {
	// OnLLMCall fires after every provider call, failed or not.
	OnLLMCall func(purpose string, inputTokens, outputTokens int, duration float64, err error)
	// OnRetry fires before each rate-limit backoff wait.
	OnRetry func(attempt int, wait time.Duration)
	// OnStage fires after each pipeline stage.
	OnStage func(stage string, duration float64)
	// OnExtract reports how the account identifier was obtained.
	OnExtract  func(strategy Strategy)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run.
type CompleteEvent struct {
	AnalysisID   string
	Outcome      Outcome
	Strategy     Strategy
	Confidence   float64
	Duration     float64
	LogEntries   int
	KBArticles   int
	AccountFound bool
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	llmTimeout time.Duration
	sleep      sleepFunc
}

// WithLLMTimeout bounds each model call. Zero disables the bound.
func WithLLMTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) { c.llmTimeout = d }
}

// WithBackoffSleep replaces the wait used between rate-limited attempts.
func WithBackoffSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(c *engineConfig) { c.sleep = fn }
}

// Engine runs the four triage stages in order: identifier extraction, log
// retrieval, document retrieval, synthesis.
type Engine struct {
	extractor *extractor
	logs      *logRetriever
	docs      *docRetriever
	synth     *synthesizer
	logger    log.Logger
	hooks     EngineHooks
}

// NewEngine creates a new triage engine with the given dependencies.
func NewEngine(provider Provider, records RecordStore, docs DocumentStore, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if provider == nil {
		panic(xerrors.New("llm provider is required"))
	}
	if records == nil || docs == nil {
		panic(xerrors.New("record and document stores are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}

	cfg := engineConfig{llmTimeout: DefaultLLMTimeout, sleep: sleepCtx}
	for _, o := range opts {
		o(&cfg)
	}

	llm := &llmCaller{provider: provider, timeout: cfg.llmTimeout, hooks: hooks}
	return &Engine{
		extractor: &extractor{llm: llm},
		logs:      &logRetriever{records: records, logger: logger},
		docs:      &docRetriever{docs: docs, logger: logger},
		synth:     &synthesizer{llm: llm, sleep: cfg.sleep, onRetry: hooks.OnRetry},
		logger:    logger,
		hooks:     hooks,
	}
}

// Run analyzes one ticket. accountID, when non-blank, is used as-is and skips
// extraction. Run always returns a State; failures inside a stage are folded
// into the trace and fallback values.
func (e *Engine) Run(ctx context.Context, ticketText, accountID string) *State {
	id := ulid.Make().String()
	start := time.Now()

	ctx, span := tracer().Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("casewise.analysis.id", id),
		attribute.Int("casewise.ticket.length", len(ticketText)),
	))
	defer span.End()

	L := e.logger.With("analysis_id", id)
	ctx = log.WithContext(ctx, L)

	st := NewState(ticketText)
	seed := Update{Trace: []string{"Starting ticket analysis..."}}
	if strings.TrimSpace(accountID) != "" {
		seed.AccountID = ptr(accountID)
		seed.Trace = append(seed.Trace, "Using Merchant ID from ticket metadata: "+accountID)
	}
	st = Merge(st, seed)

	var strategy Strategy
	st = e.stage(ctx, "extract", st, func(ctx context.Context, st State) Update {
		u, s := e.extractor.extract(ctx, st.TicketText, accountID)
		strategy = s
		return u
	})
	if e.hooks.OnExtract != nil {
		e.hooks.OnExtract(strategy)
	}

	st = e.stage(ctx, "logs", st, func(ctx context.Context, st State) Update {
		return e.logs.retrieve(ctx, st.AccountID)
	})

	st = e.stage(ctx, "docs", st, func(ctx context.Context, st State) Update {
		return e.docs.retrieve(ctx, st.TicketText, st.LogEntries)
	})

	var outcome Outcome
	st = e.stage(ctx, "synthesize", st, func(ctx context.Context, st State) Update {
		u, o := e.synth.synthesize(ctx, st)
		outcome = o
		return u
	})

	duration := time.Since(start).Seconds()

	span.SetAttributes(
		attribute.String("casewise.extract.strategy", string(strategy)),
		attribute.String("casewise.synthesis.outcome", string(outcome)),
		attribute.Float64("casewise.confidence", st.Confidence),
		attribute.Int("casewise.log_entries", len(st.LogEntries)),
		attribute.Int("casewise.kb_articles", len(st.KBArticles)),
	)
	if outcome == OutcomeLLMError {
		span.SetStatus(codes.Error, "synthesis fell back to canned reply")
	}

	L.Info(ctx, "analysis complete",
		"outcome", outcome,
		"strategy", strategy,
		"account_id", st.AccountID,
		"log_entries", len(st.LogEntries),
		"kb_articles", len(st.KBArticles),
		"confidence", st.Confidence,
		"duration", duration,
	)

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			AnalysisID:   id,
			Outcome:      outcome,
			Strategy:     strategy,
			Confidence:   st.Confidence,
			Duration:     duration,
			LogEntries:   len(st.LogEntries),
			KBArticles:   len(st.KBArticles),
			AccountFound: st.AccountID != "",
		})
	}

	return &st
}

// stage runs fn in its own span and merges its update into st.
func (e *Engine) stage(ctx context.Context, name string, st State, fn func(context.Context, State) Update) State {
	ctx, span := tracer().Start(ctx, "triage."+name)
	start := time.Now()

	u := fn(ctx, st)

	duration := time.Since(start).Seconds()
	span.SetAttributes(attribute.Int("casewise.trace.lines", len(u.Trace)))
	span.End()

	log.FromContext(ctx).Info(ctx, "stage complete", "stage", name, "duration", duration)
	if e.hooks.OnStage != nil {
		e.hooks.OnStage(name, duration)
	}
	return Merge(st, u)
}

// llmCaller wraps a Provider with a per-call timeout, an llm.call span and
// the OnLLMCall hook.
type llmCaller struct {
	provider Provider
	timeout  time.Duration
	hooks    EngineHooks
}

func (c *llmCaller) send(ctx context.Context, purpose string, req *LLMRequest) (*LLMResponse, error) {
	ctx, span := tracer().Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("casewise.llm.purpose", purpose),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
		attribute.Float64("gen_ai.request.temperature", req.Temperature),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Send(ctx, req)
	duration := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("casewise.llm.rate_limited", IsRateLimited(err)))
		if c.hooks.OnLLMCall != nil {
			c.hooks.OnLLMCall(purpose, 0, 0, duration, err)
		}
		return nil, err
	}
	if resp == nil {
		resp = &LLMResponse{}
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.StopReason)}),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if c.hooks.OnLLMCall != nil {
		c.hooks.OnLLMCall(purpose, resp.Usage.InputTokens, resp.Usage.OutputTokens, duration, nil)
	}
	return resp, nil
}
