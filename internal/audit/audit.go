package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// Audit actions for session-service.
const (
	ActionClaimHost     = "session.claim_host"
	ActionRequestHost   = "session.request_host"
	ActionReleaseHost   = "session.release_host"
	ActionHandoff       = "session.handoff"
	ActionEndSession    = "session.end"
	ActionDisconnectEnd = "session.disconnect_end"
	ActionDrawLock      = "session.draw_lock"
	ActionDrawLockFreed = "session.draw_lock_release"
	ActionAuthFailed    = "session.auth_failed"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, videoID string, actor domain.Identity, msg string) {
	entry(ctx, action, videoID, actor).Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, videoID string, actor domain.Identity, detail, msg string) {
	entry(ctx, action, videoID, actor).Str(FieldDetail, detail).Msg(msg)
}

func entry(ctx context.Context, action, videoID string, actor domain.Identity) *zerolog.Event {
	l := log.Ctx(ctx)
	e := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action)
	if videoID != "" {
		e = e.Str(log.FieldVideoID, videoID)
	}
	if actor != nil {
		e = e.Str(log.FieldUserID, actor.ParticipantID()).Str(log.FieldIdentity, string(actor.Kind()))
	}
	return e
}
