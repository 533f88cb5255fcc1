package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("interaction not found")

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Repository persists interaction rows.
type Repository interface {
	InsertInteraction(ctx context.Context, rec Record) (Record, error)
	ListInteractions(ctx context.Context, filter ListFilter) ([]Record, error)
	GetInteraction(ctx context.Context, id int64) (Record, error)
}

// Publisher announces a newly stored interaction.
type Publisher interface {
	PublishLogged(ctx context.Context, rec Record) error
}

type nopPublisher struct{}

func (nopPublisher) PublishLogged(context.Context, Record) error { return nil }

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

var pipelineRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pharmagpt",
		Name:      "pipeline_runs_total",
		Help:      "Interaction pipeline runs by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(pipelineRuns)
}

var tracer = otel.Tracer("github.com/joelkehle/pharmagpt/internal/interaction")

type PipelineConfig struct {
	Extractor    Extractor
	Repository   Repository
	Publisher    Publisher
	Catalog      *Catalog
	Logger       *zap.Logger
	EditYear     int
	HistoryLimit int
}

// Pipeline runs extract, persist, edit, suggest-followup, summarize-history
// and suggest-resources in that fixed order. Any stage error stops the run.
type Pipeline struct {
	extractor    Extractor
	repo         Repository
	publisher    Publisher
	catalog      *Catalog
	logger       *zap.Logger
	editYear     int
	historyLimit int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		extractor:    cfg.Extractor,
		repo:         cfg.Repository,
		publisher:    cfg.Publisher,
		catalog:      cfg.Catalog,
		logger:       cfg.Logger,
		editYear:     cfg.EditYear,
		historyLimit: cfg.HistoryLimit,
	}
	if p.publisher == nil {
		p.publisher = nopPublisher{}
	}
	if p.catalog == nil {
		p.catalog = DefaultCatalog()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.editYear <= 0 {
		p.editYear = DefaultEditYear
	}
	if p.historyLimit <= 0 {
		p.historyLimit = DefaultHistoryLimit
	}
	return p
}

func (p *Pipeline) Run(ctx context.Context, req Request) (PipelineResult, error) {
	res, err := p.run(ctx, req)
	switch {
	case err == nil:
		pipelineRuns.WithLabelValues("ok").Inc()
	case isValidation(err):
		pipelineRuns.WithLabelValues("invalid").Inc()
	default:
		pipelineRuns.WithLabelValues("error").Inc()
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (PipelineResult, error) {
	res := PipelineResult{Metadata: PipelineMetadata{StartedAt: time.Now()}}
	if strings.TrimSpace(req.Text) == "" {
		return res, &ValidationError{Field: "text", Message: "text is required"}
	}
	if len(req.Text) > MaxInputBytes {
		req.Text = truncateRunes(req.Text, MaxInputBytes)
		res.Metadata.InputTruncated = true
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	st := State{Input: req.Text, Context: req.Context, RequestID: RequestIDFrom(ctx)}
	log := p.logger.With(zap.String("request_id", st.RequestID))

	err := p.stage(ctx, &res, log, StageExtract, func(ctx context.Context) error {
		extracted, err := p.extractor.Extract(ctx, st.Input)
		if err != nil {
			return err
		}
		applyDefaultMaterials(&extracted, p.catalog)
		st.Extracted = extracted
		return nil
	})
	if err != nil {
		return res, err
	}

	err = p.stage(ctx, &res, log, StagePersist, func(ctx context.Context) error {
		rec, err := p.repo.InsertInteraction(ctx, NewRecord(st.RequestID, st.Extracted))
		if err != nil {
			return err
		}
		st.InteractionID = rec.ID
		log.Info("interaction logged", zap.Int64("interaction_id", rec.ID), zap.String("hcp_name", str(rec.HCPName)))
		if perr := p.publisher.PublishLogged(ctx, rec); perr != nil {
			log.Warn("publish interaction logged failed", zap.Int64("interaction_id", rec.ID), zap.Error(perr))
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	_ = p.stage(ctx, &res, log, StageEdit, func(context.Context) error {
		if IsEdit(st.Context) {
			editExtracted(st.Input, &st.Extracted, p.editYear)
		}
		return nil
	})

	_ = p.stage(ctx, &res, log, StageSuggestFollowup, func(context.Context) error {
		st.SuggestedFollowups = suggestFollowups(st.Extracted, p.catalog)
		return nil
	})

	err = p.stage(ctx, &res, log, StageSummarizeHistory, func(ctx context.Context) error {
		summary, err := summarizeHistory(ctx, p.repo, str(st.Extracted.HCPName), p.historyLimit)
		if err != nil {
			return err
		}
		st.HistorySummary = summary
		return nil
	})
	if err != nil {
		return res, err
	}

	_ = p.stage(ctx, &res, log, StageSuggestResources, func(context.Context) error {
		st.SuggestedResources = suggestResources(st.Extracted, p.catalog)
		return nil
	})

	res.State = st
	res.Metadata.CompletedAt = time.Now()
	res.Metadata.Duration = res.Metadata.CompletedAt.Sub(res.Metadata.StartedAt)
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, res *PipelineResult, log *zap.Logger, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "interaction."+name)
	defer span.End()
	span.SetAttributes(attribute.String("stage", name))

	started := time.Now()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("stage failed", zap.String("stage", name), zap.Duration("duration", time.Since(started)), zap.Error(err))
		return &StageError{Stage: name, Err: err}
	}
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, name)
	log.Debug("stage complete", zap.String("stage", name), zap.Duration("duration", time.Since(started)))
	return nil
}

// BuildResponse assembles the reply body from a finished run.
func BuildResponse(res PipelineResult) Response {
	st := res.State
	followups := st.SuggestedFollowups
	if followups == nil {
		followups = []string{}
	}
	resources := st.SuggestedResources
	if resources == nil {
		resources = []string{}
	}
	return Response{
		Message:            buildMessage(st),
		ExtractedData:      st.Extracted,
		SuggestedFollowups: followups,
		InteractionID:      st.InteractionID,
		HistorySummary:     st.HistorySummary,
		SuggestedResources: resources,
	}
}

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
