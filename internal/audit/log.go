// Package audit records administrative actions as structured log entries.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"rent360.org/internal/auth"
	"rent360.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id, the session
// and the acting user's email.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if sess, ok := auth.SessionFromContext(ctx); ok {
		entry["session_id"] = sess.ID()
		if u, ok := sess.CurrentIdentity(ctx); ok {
			entry["actor"] = auth.NormalizeEmail(u.Email)
		}
	}
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	entry["fields"] = details

	obs.Logger().WithFields(entry).Info("audit")
	return nil
}
