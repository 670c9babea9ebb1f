package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"supportdraft/internal/domain"
	"supportdraft/internal/logging"
	"supportdraft/internal/metrics"
	"supportdraft/internal/search"
	"supportdraft/internal/threads"
)

// Pipeline step names, used in logs, metrics and error reports
const (
	StepOrderLookup  = "LogilessAPICall"
	StepEmbedding    = "Vectorization"
	StepSearch       = "HybridSearch"
	StepDraft        = "AICreation"
	StepThreadLookup = "ThreadLookup"
	StepNotify       = "SlackNotify"
	StepThreadBind   = "ThreadBind"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Drafter interface {
	Draft(ctx context.Context, in DraftInput) (string, error)
}

type ThreadRegistry interface {
	Lookup(ctx context.Context, conversationID string) (string, bool, error)
	Bind(ctx context.Context, conversationID, handle string, ttl time.Duration) error
}

type ttlRegistry interface {
	TTL() time.Duration
}

// Notifier posts the draft for review. threadHandle is empty for a new thread;
// the returned handle identifies the posted message.
type Notifier interface {
	PostInquiry(ctx context.Context, threadHandle string, n domain.Notification) (string, error)
}

type ErrorReporter interface {
	ReportError(ctx context.Context, report domain.ErrorReport) error
}

// OrderFinder looks up an order number mentioned in text. It returns nil, nil
// when the text names no order. On failure the returned info, when non-nil,
// still carries the order number.
type OrderFinder interface {
	FindOrder(ctx context.Context, text string) (*domain.OrderInfo, error)
}

type PipelineConfig struct {
	Search       search.Config
	ThreadTTL    time.Duration
	CallTimeout  time.Duration
	StoreRetries int
	RetryBackoff time.Duration
}

// PipelineDeps are the collaborators of a Pipeline. Orders and Reporter are optional.
type PipelineDeps struct {
	Embedder Embedder
	Searcher Searcher
	Drafter  Drafter
	Registry ThreadRegistry
	Notifier Notifier
	Orders   OrderFinder
	Reporter ErrorReporter
}

// Pipeline turns one inquiry into a reviewed-draft notification
type Pipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Embedder == nil || deps.Searcher == nil || deps.Drafter == nil || deps.Registry == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("%w: pipeline is missing a required collaborator", domain.ErrConfiguration)
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, err
	}
	if cfg.ThreadTTL <= 0 {
		cfg.ThreadTTL = threads.DefaultTTL
		if r, ok := deps.Registry.(ttlRegistry); ok {
			cfg.ThreadTTL = r.TTL()
		}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Pipeline{deps: deps, cfg: cfg}, nil
}

// inquiryRun carries per-inquiry state through the steps
type inquiryRun struct {
	inq    domain.Inquiry
	order  *domain.OrderInfo
	logger *slog.Logger
}

func (r *inquiryRun) orderNumber() string {
	if r.order == nil {
		return ""
	}
	return r.order.OrderNumber
}

// Process runs the inquiry through order lookup, retrieval, drafting and
// notification. Only a failed notification or invalid input is an error;
// every other failure degrades to a placeholder and is reported.
func (p *Pipeline) Process(ctx context.Context, inq domain.Inquiry) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.InquiriesProcessed.WithLabelValues(status).Inc()
		metrics.InquiryDuration.Observe(time.Since(start).Seconds())
	}()

	inq.Query = strings.TrimSpace(inq.Query)
	if inq.Query == "" {
		return fmt.Errorf("%w: inquiry has no text", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(inq.ChatID) == "" {
		return fmt.Errorf("%w: inquiry has no chat id", domain.ErrInvalidInput)
	}

	run := &inquiryRun{
		inq:    inq,
		logger: logging.LoggerFromContext(ctx).With("chat_id", inq.ChatID, "event_id", inq.EventID),
	}
	run.logger.Info("Processing inquiry", "query_length", len([]rune(inq.Query)))

	var (
		g         errgroup.Group
		embedding []float32
	)
	g.Go(func() error {
		run.order = p.lookupOrder(ctx, run)
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		var err error
		embedding, err = p.deps.Embedder.GenerateEmbedding(callCtx, inq.Query)
		return err
	})
	embedErr := g.Wait()

	references, referenceCount := SearchErrorText, 0
	if embedErr != nil {
		p.degrade(ctx, run, StepEmbedding, embedErr)
	} else {
		references, referenceCount = p.searchReferences(ctx, run, embedding)
	}

	draft := p.draft(ctx, run, references)

	handle := p.lookupThread(ctx, run)

	notification := domain.Notification{
		Inquiry:        inq,
		Order:          run.order,
		Draft:          draft,
		ReferenceCount: referenceCount,
	}
	if referenceCount == 0 {
		notification.ReferenceNote = references
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	posted, err := p.deps.Notifier.PostInquiry(callCtx, handle, notification)
	cancel()
	if err != nil {
		p.report(ctx, run, StepNotify, err)
		return fmt.Errorf("failed to post notification: %w", err)
	}
	run.logger.Info("Draft posted", "thread_ts", handle, "message_ts", posted)

	p.bindThread(ctx, run, handle, posted)
	return nil
}

func (p *Pipeline) lookupOrder(ctx context.Context, run *inquiryRun) *domain.OrderInfo {
	if p.deps.Orders == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	info, err := p.deps.Orders.FindOrder(callCtx, run.inq.Query)
	if err != nil {
		if info == nil {
			info = &domain.OrderInfo{}
		}
		if info.Summary == "" {
			info.Summary = OrderLookupErrorText
		}
		metrics.PipelineDegradations.WithLabelValues(StepOrderLookup).Inc()
		p.reportWith(ctx, run, StepOrderLookup, err, info.OrderNumber)
		return info
	}
	return info
}

func (p *Pipeline) searchReferences(ctx context.Context, run *inquiryRun, embedding []float32) (string, int) {
	var results []search.Result
	err := withRetry(ctx, p.cfg.StoreRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		var err error
		results, err = p.deps.Searcher.Search(callCtx, run.inq.Query, embedding, p.cfg.Search)
		return err
	})
	if err != nil {
		p.degrade(ctx, run, StepSearch, err)
		return SearchErrorText, 0
	}

	run.logger.Info("Related chunks found", "count", len(results))
	return FormatReferences(results), len(results)
}

func (p *Pipeline) draft(ctx context.Context, run *inquiryRun, references string) string {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	draft, err := p.deps.Drafter.Draft(callCtx, DraftInput{
		Query:        run.inq.Query,
		CustomerName: run.inq.CustomerName,
		UserID:       run.inq.UserID,
		Order:        run.order,
		References:   references,
	})
	if err != nil {
		p.degrade(ctx, run, StepDraft, err)
		return DraftErrorText
	}
	return draft
}

// lookupThread returns the active thread handle, or "" to open a new thread
func (p *Pipeline) lookupThread(ctx context.Context, run *inquiryRun) string {
	var (
		handle string
		found  bool
	)
	err := withRetry(ctx, p.cfg.StoreRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		var err error
		handle, found, err = p.deps.Registry.Lookup(callCtx, run.inq.ChatID)
		return err
	})

	switch {
	case err != nil:
		metrics.ThreadLookups.WithLabelValues("error").Inc()
		p.degrade(ctx, run, StepThreadLookup, err)
		return ""
	case found:
		metrics.ThreadLookups.WithLabelValues("hit").Inc()
		return handle
	default:
		metrics.ThreadLookups.WithLabelValues("miss").Inc()
		return ""
	}
}

// bindThread opens a binding for a new thread or extends the existing one
func (p *Pipeline) bindThread(ctx context.Context, run *inquiryRun, existing, posted string) {
	root, kind := posted, "new"
	if existing != "" {
		root, kind = existing, "refresh"
	}
	if root == "" {
		run.logger.Warn("Notifier returned no message handle; thread not bound")
		metrics.ThreadBinds.WithLabelValues(kind, "skipped").Inc()
		return
	}

	err := withRetry(ctx, p.cfg.StoreRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		return p.deps.Registry.Bind(callCtx, run.inq.ChatID, root, p.cfg.ThreadTTL)
	})
	if err != nil {
		metrics.ThreadBinds.WithLabelValues(kind, "error").Inc()
		p.report(ctx, run, StepThreadBind, err)
		return
	}
	metrics.ThreadBinds.WithLabelValues(kind, "success").Inc()
}

func (p *Pipeline) degrade(ctx context.Context, run *inquiryRun, step string, err error) {
	metrics.PipelineDegradations.WithLabelValues(step).Inc()
	if errors.Is(err, domain.ErrStoreUnavailable) {
		run.logger.Warn("Store unavailable, continuing with fallback", "step", step, "error", err)
	}
	p.report(ctx, run, step, err)
}

func (p *Pipeline) report(ctx context.Context, run *inquiryRun, step string, err error) {
	p.reportWith(ctx, run, step, err, run.orderNumber())
}

func (p *Pipeline) reportWith(ctx context.Context, run *inquiryRun, step string, err error, orderNumber string) {
	run.logger.Error("Pipeline step failed", "step", step, "error", err, "order_number", orderNumber)

	if p.deps.Reporter == nil {
		return
	}

	// the report must go out even when the inquiry context is done
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CallTimeout)
	defer cancel()

	report := domain.ErrorReport{
		Step:        step,
		Err:         err,
		Query:       run.inq.Query,
		UserID:      run.inq.UserID,
		OrderNumber: orderNumber,
		OccurredAt:  time.Now(),
	}
	if rerr := p.deps.Reporter.ReportError(reportCtx, report); rerr != nil {
		run.logger.Error("Failed to send error report", "step", step, "error", rerr)
	}
}
