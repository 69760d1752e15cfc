package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/obs"
	"rusunawa.app/internal/stream"
)

// Event names emitted by the HTTP layer.
const (
	EventLogin              = "auth.login"
	EventLogout             = "auth.logout"
	EventRegister           = "auth.register"
	EventImpersonationStart = "auth.impersonation.start"
	EventImpersonationStop  = "auth.impersonation.stop"
	EventUserCreate         = "rbac.user.create"
	EventUserUpdate         = "rbac.user.update"
	EventUserRoles          = "rbac.user.roles.update"
	EventUserDelete         = "rbac.user.delete"
	EventUserForceDelete    = "rbac.user.force_delete"
	EventUserVerifyEmail    = "rbac.user.verify_email"
	EventUserResetPassword  = "rbac.user.reset_password"
	EventRoleUpdate         = "rbac.role.update"
	EventRolePermissions    = "rbac.role.permissions.update"
	EventAccessDenied       = "rbac.access.denied"
)

// feed carries every logged entry to live subscribers.
var feed = stream.New[json.RawMessage](64)

// Subscribe returns a channel of JSON encoded audit entries logged after the
// call. The channel is closed when ctx ends.
func Subscribe(ctx context.Context) <-chan json.RawMessage {
	return feed.Subscribe(ctx)
}

// Subscribers reports the number of live feed subscribers.
func Subscribers() int { return feed.Subscribers() }

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

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and session
// context and publishes it to the live feed. Entries are not persisted.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if session, ok := auth.SessionFromContext(ctx); ok {
		entry["user_id"] = session.UserID
		if session.Impersonating() {
			entry["actor_id"] = session.Impersonation.ActorID
		}
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	feed.Publish(data)
	return nil
}
