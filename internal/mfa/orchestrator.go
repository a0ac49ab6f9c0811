package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"credential-lifecycle/backend/internal/audit"
	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/mfa/domain"
)

const instrumentationName = "credential-lifecycle/backend/internal/mfa"

// SubjectLoader loads a subject and its methods. It returns nil, nil when the subject does not exist.
type SubjectLoader interface {
	GetSubject(ctx context.Context, userID string) (*domain.Subject, error)
}

// AttemptStore persists attempt state changes.
type AttemptStore interface {
	MarkPrepared(ctx context.Context, a *domain.Attempt, provider string) error
	Save(ctx context.Context, a *domain.Attempt) error
}

// AssertionIssuer signs the proof handed out once an attempt is verified.
type AssertionIssuer interface {
	Issue(attemptID, userID, method string) (token string, expiresAt time.Time, err error)
}

// Issued is returned to the client after a code went out.
type Issued struct {
	Method    string
	SentAt    time.Time
	ExpiresAt time.Time
}

// Verification is the outcome of a code submission.
type Verification struct {
	Verified           bool
	State              domain.AttemptState
	Assertion          string
	AssertionExpiresAt time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer spans are started on.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMeter sets the meter the issuance and validation counters are created on.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// WithAuditLogger records issuance and validation outcomes.
func WithAuditLogger(l audit.AuditLogger) Option {
	return func(o *Orchestrator) { o.audit = l }
}

// Orchestrator drives an authentication attempt through its second factor.
type Orchestrator struct {
	registry   *Registry
	subjects   SubjectLoader
	attempts   AttemptStore
	assertions AssertionIssuer
	audit      audit.AuditLogger
	tracer     trace.Tracer
	meter      metric.Meter
	issued     metric.Int64Counter
	validated  metric.Int64Counter
	now        func() time.Time
}

// NewOrchestrator returns an orchestrator. Tracer and meter default to the global providers.
func NewOrchestrator(registry *Registry, subjects SubjectLoader, attempts AttemptStore, assertions AssertionIssuer, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		registry:   registry,
		subjects:   subjects,
		attempts:   attempts,
		assertions: assertions,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.meter == nil {
		o.meter = otel.Meter(instrumentationName)
	}
	var err error
	if o.issued, err = o.meter.Int64Counter("mfa.codes.issued",
		metric.WithDescription("Second-factor codes issued or re-sent")); err != nil {
		return nil, err
	}
	if o.validated, err = o.meter.Int64Counter("mfa.codes.validated",
		metric.WithDescription("Second-factor code submissions by result")); err != nil {
		return nil, err
	}
	return o, nil
}

// resolve maps a requested method through the closed method enumeration to a provider the subject can use.
// It returns nil provider (no error) for unknown or disabled methods.
func (o *Orchestrator) resolve(ctx context.Context, a *domain.Attempt, requested string) (Provider, *domain.Subject, error) {
	if !a.IsPending() {
		return nil, nil, ErrInvalidState
	}
	t, ok := domain.ParseMethodType(requested)
	if !ok {
		return nil, nil, nil
	}
	p, ok := o.registry.Lookup(string(t))
	if !ok {
		return nil, nil, nil
	}
	s, err := o.subjects.GetSubject(ctx, a.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, fmt.Errorf("%w: unknown subject", ErrInvalidState)
	}
	if !p.Supports(s) {
		return nil, nil, nil
	}
	return p, s, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Issue prepares the requested provider for the attempt and returns when the code was sent.
// It returns nil, nil when the method is unknown or not enabled for the subject.
func (o *Orchestrator) Issue(ctx context.Context, a *domain.Attempt, requested string) (_ *Issued, err error) {
	ctx, span := o.tracer.Start(ctx, "mfa.Issue", trace.WithAttributes(attribute.String("mfa.method", requested)))
	defer func() { endSpan(span, err) }()

	p, s, err := o.resolve(ctx, a, requested)
	if err != nil || p == nil {
		return nil, err
	}
	if err := p.Prepare(ctx, s); err != nil {
		return nil, err
	}
	if err := o.attempts.MarkPrepared(ctx, a, p.Name()); err != nil {
		return nil, err
	}
	issued, err := o.issuedFor(s, p.Name())
	if err != nil {
		return nil, err
	}
	o.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("method", p.Name()), attribute.Bool("resend", false)))
	o.logEvent(ctx, s.ID, auditdomain.ActionCodeIssued, p.Name())
	return issued, nil
}

// Resend re-delivers the attempt's code over a provider that was already prepared for it.
// Unknown or disabled methods return nil, nil; a provider never prepared for the attempt is ErrInvalidState.
func (o *Orchestrator) Resend(ctx context.Context, a *domain.Attempt, requested string) (_ *Issued, err error) {
	ctx, span := o.tracer.Start(ctx, "mfa.Resend", trace.WithAttributes(attribute.String("mfa.method", requested)))
	defer func() { endSpan(span, err) }()

	p, s, err := o.resolve(ctx, a, requested)
	if err != nil || p == nil {
		return nil, err
	}
	if !a.IsPrepared(p.Name()) {
		return nil, fmt.Errorf("%w: no code was issued over %s", ErrInvalidState, p.Name())
	}
	if r, ok := p.(Resender); ok {
		err = r.Resend(ctx, s)
	} else {
		err = p.Prepare(ctx, s)
	}
	if err != nil {
		return nil, err
	}
	if err := o.attempts.MarkPrepared(ctx, a, p.Name()); err != nil {
		return nil, err
	}
	issued, err := o.issuedFor(s, p.Name())
	if err != nil {
		return nil, err
	}
	o.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("method", p.Name()), attribute.Bool("resend", true)))
	return issued, nil
}

func (o *Orchestrator) issuedFor(s *domain.Subject, name string) (*Issued, error) {
	m := s.Method(domain.MethodType(name))
	if m == nil || m.LastCodeSentAt.IsZero() || m.LastCodeExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: %s left no issuance timestamps", ErrIllegalState, name)
	}
	return &Issued{Method: name, SentAt: m.LastCodeSentAt, ExpiresAt: m.LastCodeExpiresAt}, nil
}

// Verify checks a submitted code. A wrong code moves the attempt to Failed and an expired one to Expired;
// neither is an error. On success the attempt is Verified and a signed assertion is returned.
// Unknown or disabled methods return nil, nil; a provider never prepared for the attempt is ErrInvalidState.
// A code is accepted once: a second Verify racing on a stale copy of the attempt gets ErrInvalidState.
func (o *Orchestrator) Verify(ctx context.Context, a *domain.Attempt, requested, code string) (_ *Verification, err error) {
	ctx, span := o.tracer.Start(ctx, "mfa.Verify", trace.WithAttributes(attribute.String("mfa.method", requested)))
	defer func() { endSpan(span, err) }()

	p, s, err := o.resolve(ctx, a, requested)
	if err != nil || p == nil {
		return nil, err
	}
	if !a.IsPrepared(p.Name()) {
		return nil, fmt.Errorf("%w: no code was issued over %s", ErrInvalidState, p.Name())
	}

	if !p.Validate(s, code) {
		next := domain.StateFailed
		if m := s.Method(domain.MethodType(p.Name())); m != nil && m.CodeExpired(o.now()) {
			next = domain.StateExpired
		}
		if err := o.transition(ctx, a, next); err != nil {
			return nil, err
		}
		o.validated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", p.Name()), attribute.String("result", string(next))))
		o.logEvent(ctx, s.ID, auditdomain.ActionCodeFailed, p.Name())
		return &Verification{State: next}, nil
	}

	token, exp, err := o.assertions.Issue(a.ID, s.ID, p.Name())
	if err != nil {
		return nil, fmt.Errorf("mfa: issue assertion: %w", err)
	}
	// The stored code is the compare-and-set point: a concurrent Verify of the same attempt loses here
	// and leaves the winner's state alone.
	if r, ok := p.(Redeemer); ok {
		redeemed, err := r.Redeem(ctx, s)
		if err != nil {
			return nil, err
		}
		if !redeemed {
			return nil, fmt.Errorf("%w: code already redeemed", ErrInvalidState)
		}
	}
	if err := o.transition(ctx, a, domain.StateVerified); err != nil {
		return nil, err
	}
	o.validated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", p.Name()), attribute.String("result", string(domain.StateVerified))))
	o.logEvent(ctx, s.ID, auditdomain.ActionCodeVerified, p.Name())
	return &Verification{Verified: true, State: domain.StateVerified, Assertion: token, AssertionExpiresAt: exp}, nil
}

func (o *Orchestrator) transition(ctx context.Context, a *domain.Attempt, next domain.AttemptState) error {
	if err := a.Transition(next); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, a.State, next)
		}
		return err
	}
	return o.attempts.Save(ctx, a)
}

func (o *Orchestrator) logEvent(ctx context.Context, userID, action, method string) {
	if o.audit == nil {
		return
	}
	o.audit.LogEvent(ctx, userID, action, "mfa_method", fmt.Sprintf(`{"method":%q}`, method))
}

// Available lists the methods the attempt's subject can use. It is empty for unknown subjects.
func (o *Orchestrator) Available(ctx context.Context, a *domain.Attempt) ([]string, error) {
	if !a.IsPending() {
		return nil, ErrInvalidState
	}
	s, err := o.subjects.GetSubject(ctx, a.SubjectID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return o.registry.Available(s), nil
}
