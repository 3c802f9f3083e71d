package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consentmgr/internal/consent/metrics"
	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	txcontext "consentmgr/pkg/platform/tx"
)

// systemActor is recorded as the actor of transitions the system initiates.
const systemActor id.UserID = "system"

type Option func(*Service)

// Service orchestrates the consent lifecycle. Every mutating operation runs
// as one unit of work: validation, reads, rule checks, writes, audit and
// history, then the token hook. Any failure rolls back all of it.
type Service struct {
	store   Store
	tx      txcontext.Runner
	revoker TokenRevoker
	vocab   models.Vocabularies
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	logger  *slog.Logger
}

// New constructs the orchestrator.
func New(store Store, tx txcontext.Runner, revoker TokenRevoker, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		tx:      tx,
		revoker: revoker,
		vocab:   models.NewVocabularies(),
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithVocabularies sets the per-organisation status vocabularies.
func WithVocabularies(v models.Vocabularies) Option {
	return func(s *Service) {
		s.vocab = v
	}
}

// transition describes one audited status change for post-commit logging.
type transition struct {
	consentID id.ConsentID
	from      models.ConsentStatus
	to        models.ConsentStatus
	reason    models.Reason
}

// effects collects what a unit of work did. They are reported only after
// the unit commits.
type effects struct {
	transitions   []transition
	historyRows   map[models.Reason]int
	mappings      int
	expired       int
	tokensRevoked int
}

func (fx *effects) addHistory(reason models.Reason, rows int) {
	if fx.historyRows == nil {
		fx.historyRows = make(map[models.Reason]int)
	}
	fx.historyRows[reason] += rows
}

// run executes fn in one transaction inside a span and reports the outcome.
func (s *Service) run(ctx context.Context, op, span string, attrs []tracer.Attribute, fn func(ctx context.Context, fx *effects) error) (err error) {
	start := time.Now()
	ctx, sp := s.tracer.Start(ctx, span, attrs...)
	defer func() { sp.End(err) }()

	fx := &effects{}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, fx)
	})
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, err, time.Since(start).Seconds())
	}
	if err != nil {
		s.logFailure(ctx, op, err)
		return err
	}
	s.report(ctx, sp, fx)
	return nil
}

// query runs fn as a read-only unit of work so it never observes another
// unit's uncommitted writes.
func (s *Service) query(ctx context.Context, op string, attrs []tracer.Attribute, fn func(ctx context.Context) error) error {
	attrs = append(attrs, tracer.String(tracer.AttrOperation, op))
	return s.run(txcontext.ReadOnly(ctx), op, tracer.SpanQuery, attrs, func(ctx context.Context, _ *effects) error {
		return fn(ctx)
	})
}

func (s *Service) report(ctx context.Context, sp tracer.Span, fx *effects) {
	rows := 0
	for reason, n := range fx.historyRows {
		rows += n
		if s.metrics != nil {
			s.metrics.AddHistoryRows(string(reason), n)
		}
	}
	sp.SetAttributes(tracer.Int(tracer.AttrHistoryRows, rows))
	if fx.tokensRevoked > 0 {
		sp.AddEvent(tracer.EventTokensRevoked, tracer.Int(tracer.AttrConsentCount, fx.tokensRevoked))
	}

	for _, t := range fx.transitions {
		s.logger.InfoContext(ctx, "consent status changed",
			"consent_id", t.consentID.String(),
			"from", string(t.from),
			"to", string(t.to),
			"reason", string(t.reason),
		)
		if s.metrics != nil {
			s.metrics.IncrementStatusTransition(string(t.to))
		}
	}
	if s.metrics != nil {
		if fx.mappings > 0 {
			s.metrics.ObserveMappingsPerBind(fx.mappings)
		}
		if fx.expired > 0 {
			s.metrics.IncrementConsentsExpired(fx.expired)
		}
	}
}

func (s *Service) logFailure(ctx context.Context, op string, err error) {
	code := dErrors.CodeOf(err)
	level := slog.LevelError
	if code.IsValidation() || code == dErrors.CodeNotFound {
		level = slog.LevelInfo
	}
	args := []any{"operation", op, "code", string(code), "error", err.Error()}
	var de *dErrors.Error
	if errors.As(err, &de) && de.Err != nil {
		args = append(args, "cause", de.Err.Error())
	}
	s.logger.Log(ctx, level, "consent operation failed", args...)
}
