// Package audit records credential lifecycle events. Writes are best-effort.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"credential-lifecycle/backend/internal/audit/domain"
	auditrepo "credential-lifecycle/backend/internal/audit/repository"
	"credential-lifecycle/backend/internal/telemetry"
)

// IPExtractor returns the client IP from the request context (see interceptors.ClientIP).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by the token and MFA services.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository, an optional IP extractor, and an optional
// event emitter that mirrors each entry as an OTel log record.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	emitter     telemetry.EventEmitter
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor and emitter may be nil; then IP is recorded as "unknown" and nothing is emitted.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, emitter telemetry.EventEmitter) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, emitter: emitter, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
	telemetry.EmitAsync(l.emitter, &telemetry.Event{
		UserID:    userID,
		EventType: action,
		Resource:  resource,
		Metadata:  []byte(metadata),
		CreatedAt: entry.CreatedAt,
	})
}
