package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	AccountID     string
	SessionID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events through the application logger
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

func (al *AuditLogger) log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.SessionID != "" {
		// session ids are bearer-equivalent, keep only a prefix
		attrs = append(attrs, slog.String("session_ref", truncate(event.SessionID, 6)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogAuthAttempt logs login and registration attempts
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	al.log("auth", event)
}

// LogSessionEvent logs session issuance and revocation
func (al *AuditLogger) LogSessionEvent(event AuditEvent) {
	al.log("session", event)
}

// LogLockout logs a transition into the locked state
func (al *AuditLogger) LogLockout(accountID string, failedAttempts int, until time.Time) {
	al.log("lockout", AuditEvent{
		EventType:     "account_locked",
		AccountID:     accountID,
		Success:       false,
		FailureReason: "too_many_failed_logins",
		Metadata: map[string]string{
			"failed_attempts": itoa(failedAttempts),
			"locked_until":    until.UTC().Format(time.RFC3339),
		},
	})
}

// LogPasswordChange logs password change and reset events
func (al *AuditLogger) LogPasswordChange(eventType, accountID string, success bool, failureReason string) {
	al.log("password", AuditEvent{
		EventType:     eventType,
		AccountID:     accountID,
		Success:       success,
		FailureReason: failureReason,
	})
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(eventType, accountID string, metadata map[string]string) {
	al.log("account", AuditEvent{
		EventType: eventType,
		AccountID: accountID,
		Success:   true,
		Metadata:  metadata,
	})
}
