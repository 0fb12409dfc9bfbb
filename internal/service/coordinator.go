package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/weiawesome/wes-io-live/session-service/internal/access"
	"github.com/weiawesome/wes-io-live/session-service/internal/audit"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/session-service/internal/store"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/pubsub"
)

// Defaults for Options.
const (
	DefaultDrawLockTTL    = 30 * time.Second
	DefaultStaleHeartbeat = 5 * time.Second
)

// Options tunes the coordinator's timing rules.
type Options struct {
	Clock          clockwork.Clock
	DrawLockTTL    time.Duration
	StaleHeartbeat time.Duration
}

type coordinator struct {
	hub    *hub.Hub
	store  store.RoomStore
	perms  access.PermissionResolver
	rooms  RoomBroadcaster
	events kafka.SessionEventProducer

	clock      clockwork.Clock
	lockTTL    time.Duration
	staleAfter time.Duration

	// hostOf maps a local connection id to the room it is driving. It is
	// only consulted for disconnect cleanup and to authenticate heartbeats;
	// the room store stays authoritative.
	hostOf map[string]string
	mu     sync.Mutex
}

// NewCoordinator creates a SessionService. events may be nil.
func NewCoordinator(
	h *hub.Hub,
	rs store.RoomStore,
	perms access.PermissionResolver,
	rooms RoomBroadcaster,
	events kafka.SessionEventProducer,
	opts Options,
) SessionService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DrawLockTTL <= 0 {
		opts.DrawLockTTL = DefaultDrawLockTTL
	}
	if opts.StaleHeartbeat <= 0 {
		opts.StaleHeartbeat = DefaultStaleHeartbeat
	}
	if events == nil {
		events = kafka.NopProducer{}
	}
	return &coordinator{
		hub:        h,
		store:      rs,
		perms:      perms,
		rooms:      rooms,
		events:     events,
		clock:      opts.Clock,
		lockTTL:    opts.DrawLockTTL,
		staleAfter: opts.StaleHeartbeat,
		hostOf:     make(map[string]string),
	}
}

// Host assignment bookkeeping

func (s *coordinator) bindHost(connID, videoID string) {
	s.mu.Lock()
	s.hostOf[connID] = videoID
	s.mu.Unlock()
}

func (s *coordinator) unbindHost(connID, videoID string) {
	s.mu.Lock()
	if s.hostOf[connID] == videoID {
		delete(s.hostOf, connID)
	}
	s.mu.Unlock()
}

func (s *coordinator) isLocalHost(connID, videoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hostOf[connID]
	return ok && v == videoID
}

func (s *coordinator) hostedRoom(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hostOf[connID]
	return v, ok
}

// isCallerHost reports whether the client drives the room. Guests share one
// participant id, so for them the local connection binding decides.
func (s *coordinator) isCallerHost(c *hub.Client, videoID string, state domain.RoomState) bool {
	if !state.IsLive || state.HostID != c.Identity.ParticipantID() {
		return false
	}
	if c.Identity.Kind() == domain.IdentityGuest {
		return s.isLocalHost(c.ID, videoID)
	}
	return true
}

// Shared helpers

func (s *coordinator) reject(c *hub.Client, code, message string) error {
	return c.SendMessage(domain.NewErrorMessage(code, message))
}

func (s *coordinator) resolveRole(ctx context.Context, c *hub.Client, videoID string) (domain.Role, error) {
	role, err := s.perms.Resolve(ctx, videoID, c.Identity)
	if err != nil {
		c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to check permissions"))
		return domain.RoleNone, fmt.Errorf("resolve role: %w", err)
	}
	return role, nil
}

func (s *coordinator) load(ctx context.Context, c *hub.Client, videoID string) (domain.RoomState, error) {
	state, err := s.store.Get(ctx, videoID)
	if err != nil {
		if c != nil {
			c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Session state unavailable"))
		}
		return state, fmt.Errorf("load room %s: %w", videoID, err)
	}
	return state, nil
}

func (s *coordinator) save(ctx context.Context, c *hub.Client, videoID string, state domain.RoomState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to store room %s: %w", videoID, err)
	}
	if err := s.store.Set(ctx, videoID, state); err != nil {
		if c != nil {
			c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Session state unavailable"))
		}
		return fmt.Errorf("save room %s: %w", videoID, err)
	}
	return nil
}

func (s *coordinator) broadcast(ctx context.Context, videoID string, message interface{}, exclude string) {
	if err := s.rooms.Broadcast(ctx, videoID, message, exclude); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to broadcast to room")
	}
}

func (s *coordinator) requireMember(c *hub.Client, videoID string) bool {
	if s.hub.IsMember(c, videoID) {
		return true
	}
	s.reject(c, domain.ErrCodeForbidden, "Join the room first")
	return false
}

func (s *coordinator) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

// Join / leave

func (s *coordinator) HandleJoinRoom(ctx context.Context, c *hub.Client, videoID string) error {
	if videoID == "" {
		return s.reject(c, domain.ErrCodeBadRequest, "videoId is required")
	}

	role, err := s.resolveRole(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !role.CanView() {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldVideoID, videoID).Msg("join rejected, no view rights")
		return s.reject(c, domain.ErrCodeForbidden, "You do not have access to this video")
	}

	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}

	s.hub.JoinRoom(c, videoID)

	initial := state.ProjectedTime(s.clock.Now(), s.staleAfter)
	return c.SendMessage(domain.NewRoomStateMessage(videoID, state, initial))
}

func (s *coordinator) HandleLeaveRoom(ctx context.Context, c *hub.Client, videoID string) error {
	var err error
	if s.isLocalHost(c.ID, videoID) {
		err = s.endForDisconnect(ctx, c, videoID)
	}
	s.hub.LeaveRoom(c, videoID)
	return err
}

func (s *coordinator) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	videoID, ok := s.hostedRoom(c.ID)
	if !ok {
		return nil
	}
	return s.endForDisconnect(ctx, c, videoID)
}

// endForDisconnect ends the session a departing host connection was driving.
// The store decides: if the room was handed off or ended meanwhile, the
// local binding was stale and nothing happens.
func (s *coordinator) endForDisconnect(ctx context.Context, c *hub.Client, videoID string) error {
	s.unbindHost(c.ID, videoID)

	state, err := s.load(ctx, nil, videoID)
	if err != nil {
		return err
	}
	l := log.Ctx(ctx)
	if !state.IsLive || state.HostID != c.Identity.ParticipantID() {
		l.Debug().Str(log.FieldVideoID, videoID).Msg("stale host assignment, session left untouched")
		return nil
	}

	hostID := state.HostID
	state.GoIdle()
	state.MarkerLock = nil
	if err := s.save(ctx, nil, videoID, state); err != nil {
		return err
	}

	s.broadcast(ctx, videoID, &domain.SessionEndedMessage{Type: domain.MsgTypeSessionEnded, VideoID: videoID}, "")
	audit.Log(ctx, audit.ActionDisconnectEnd, videoID, c.Identity, "host disconnected, session ended")
	if err := s.events.ProduceSessionEnded(ctx, videoID, hostID, kafka.ReasonDisconnect); err != nil {
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to produce session_ended event")
	}
	return nil
}

// Host election

func (s *coordinator) HandleClaimHost(ctx context.Context, c *hub.Client, videoID string) error {
	if !s.requireMember(c, videoID) {
		return nil
	}

	role, err := s.resolveRole(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return s.reject(c, domain.ErrCodeForbidden, "Only editors can go live")
	}

	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}
	if state.IsLive {
		return s.reject(c, domain.ErrCodeInvalidState, "A live session is already in progress")
	}

	state.IsLive = true
	state.HostID = c.Identity.ParticipantID()
	state.HostName = c.Identity.DisplayName()
	state.LastStatus = domain.StatusPaused
	state.LastHeartbeatAt = s.nowMillis()
	state.PendingHostRequest = nil
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}

	s.bindHost(c.ID, videoID)

	s.broadcast(ctx, videoID, &domain.HostChangedMessage{
		Type:     domain.MsgTypeHostChanged,
		VideoID:  videoID,
		HostID:   state.HostID,
		HostName: state.HostName,
	}, "")
	audit.Log(ctx, audit.ActionClaimHost, videoID, c.Identity, "session went live")
	if err := s.events.ProduceSessionStarted(ctx, videoID, state.HostID, state.HostName); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to produce session_started event")
	}
	return nil
}

func (s *coordinator) HandleSyncPulse(ctx context.Context, c *hub.Client, msg *domain.SyncPulseMessage) error {
	videoID := msg.VideoID
	if !s.isLocalHost(c.ID, videoID) {
		return nil
	}
	if !msg.State.Valid() {
		return s.reject(c, domain.ErrCodeBadRequest, "state must be playing or paused")
	}

	state, err := s.load(ctx, nil, videoID)
	if err != nil {
		return err
	}
	if !state.IsLive || state.HostID != c.Identity.ParticipantID() {
		// Handed off or ended from another process.
		s.unbindHost(c.ID, videoID)
		return nil
	}

	state.LastTimestamp = msg.Timestamp
	state.LastStatus = msg.State
	state.LastHeartbeatAt = s.nowMillis()
	if err := s.save(ctx, nil, videoID, state); err != nil {
		return err
	}

	s.broadcast(ctx, videoID, &domain.SyncUpdateMessage{
		Type:           domain.MsgTypeSyncUpdate,
		VideoID:        videoID,
		Timestamp:      msg.Timestamp,
		Frame:          msg.Frame,
		State:          msg.State,
		DriftAllowance: domain.DriftAllowance,
	}, c.ID)
	return nil
}

func (s *coordinator) HandleRequestBecomeHost(ctx context.Context, c *hub.Client, videoID string) error {
	if !s.requireMember(c, videoID) {
		return nil
	}

	role, err := s.resolveRole(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return s.reject(c, domain.ErrCodeForbidden, "Only editors can request control")
	}

	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !state.IsLive {
		return s.reject(c, domain.ErrCodeInvalidState, "No live session to take over")
	}
	if s.isCallerHost(c, videoID, state) {
		return s.reject(c, domain.ErrCodeInvalidState, "You are already the host")
	}

	// Last requester wins.
	state.PendingHostRequest = &domain.HostRequest{
		UserID:       c.Identity.ParticipantID(),
		UserName:     c.Identity.DisplayName(),
		ConnectionID: c.ID,
	}
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}

	s.broadcast(ctx, videoID, &domain.HostRequestedMessage{
		Type:     domain.MsgTypeHostRequested,
		VideoID:  videoID,
		UserID:   state.PendingHostRequest.UserID,
		UserName: state.PendingHostRequest.UserName,
	}, "")
	audit.Log(ctx, audit.ActionRequestHost, videoID, c.Identity, "host take-over requested")
	return nil
}

func (s *coordinator) HandleReleaseHost(ctx context.Context, c *hub.Client, videoID string) error {
	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !s.isCallerHost(c, videoID, state) {
		return s.reject(c, domain.ErrCodeForbidden, "Only the host can release control")
	}

	l := log.Ctx(ctx)
	pending := state.PendingHostRequest

	if pending == nil {
		hostID := state.HostID
		state.GoIdle()
		if err := s.save(ctx, c, videoID, state); err != nil {
			return err
		}
		s.unbindHost(c.ID, videoID)

		s.broadcast(ctx, videoID, &domain.SessionEndedMessage{Type: domain.MsgTypeSessionEnded, VideoID: videoID}, "")
		audit.Log(ctx, audit.ActionReleaseHost, videoID, c.Identity, "host released with no successor, session ended")
		if err := s.events.ProduceSessionEnded(ctx, videoID, hostID, kafka.ReasonReleased); err != nil {
			l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to produce session_ended event")
		}
		return nil
	}

	previous := state.HostID
	state.HostID = pending.UserID
	state.HostName = pending.UserName
	state.PendingHostRequest = nil
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}
	s.unbindHost(c.ID, videoID)
	s.rebindHost(ctx, videoID, *pending, c.ID)

	s.broadcast(ctx, videoID, &domain.HostChangedMessage{
		Type:     domain.MsgTypeHostChanged,
		VideoID:  videoID,
		HostID:   state.HostID,
		HostName: state.HostName,
	}, "")
	audit.LogWithDetail(ctx, audit.ActionHandoff, videoID, c.Identity, "to="+state.HostID, "host handed off from "+previous)
	if err := s.events.ProduceHostChanged(ctx, videoID, state.HostID, state.HostName); err != nil {
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to produce host_changed event")
	}
	return nil
}

// rebindHost records the new host's connection. The connection the request
// came from is preferred, then any local member with the same identity;
// failing both, the process that owns it is asked over the fan-out.
// previous is the releasing connection.
func (s *coordinator) rebindHost(ctx context.Context, videoID string, req domain.HostRequest, previous string) {
	p := pubsub.AssignHostBody{
		VideoID:              videoID,
		UserID:               req.UserID,
		ConnectionID:         req.ConnectionID,
		PreviousConnectionID: previous,
	}
	if s.AssignHost(ctx, p) {
		return
	}

	l := log.Ctx(ctx)
	sent, err := s.rooms.AssignHost(ctx, p)
	switch {
	case err != nil:
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to request remote host assignment")
	case !sent:
		l.Warn().Str(log.FieldVideoID, videoID).Str(log.FieldUserID, req.UserID).Msg("new host has no local connection, disconnect cleanup unavailable")
	}
}

func (s *coordinator) AssignHost(ctx context.Context, p pubsub.AssignHostBody) bool {
	var target *hub.Client
	if p.ConnectionID != "" {
		if c, ok := s.hub.Client(p.ConnectionID); ok && s.hub.IsMember(c, p.VideoID) && c.Identity.ParticipantID() == p.UserID {
			target = c
		}
	}
	// Every guest shares one participant id, so only the recorded
	// connection can identify a guest requester.
	if target == nil && p.UserID != domain.GuestHostID {
		target = s.hub.FindInRoom(p.VideoID, func(c *hub.Client) bool {
			return c.ID != p.PreviousConnectionID && c.Identity.ParticipantID() == p.UserID
		})
	}
	if target != nil && target.ID == p.PreviousConnectionID {
		target = nil
	}
	if target == nil {
		return false
	}
	s.bindHost(target.ID, p.VideoID)
	return true
}

func (s *coordinator) HandleEndSession(ctx context.Context, c *hub.Client, videoID string) error {
	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !s.isCallerHost(c, videoID, state) {
		return s.reject(c, domain.ErrCodeForbidden, "Only the host can end the session")
	}

	hostID := state.HostID
	state.GoIdle()
	state.MarkerLock = nil
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}
	s.unbindHost(c.ID, videoID)

	s.broadcast(ctx, videoID, &domain.SessionEndedMessage{Type: domain.MsgTypeSessionEnded, VideoID: videoID}, "")
	audit.Log(ctx, audit.ActionEndSession, videoID, c.Identity, "session ended by host")
	if err := s.events.ProduceSessionEnded(ctx, videoID, hostID, kafka.ReasonExplicit); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to produce session_ended event")
	}
	return nil
}

// Draw lock

func (s *coordinator) HandleRequestDrawLock(ctx context.Context, c *hub.Client, videoID string) error {
	if !s.requireMember(c, videoID) {
		return nil
	}

	role, err := s.resolveRole(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return s.reject(c, domain.ErrCodeForbidden, "Only editors can draw")
	}

	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	// Expiry is only ever checked here; nothing sweeps lapsed locks.
	if held := state.ActiveLock(now); held != nil && !held.HeldBy(c.Identity, c.ID) {
		return s.reject(c, domain.ErrCodeLocked, fmt.Sprintf("%s is currently drawing", held.Username))
	}

	state.MarkerLock = &domain.MarkerLock{
		UserID:       c.Identity.ParticipantID(),
		Username:     c.Identity.DisplayName(),
		ExpiresAt:    now.Add(s.lockTTL).UnixMilli(),
		ConnectionID: c.ID,
	}
	state.LastStatus = domain.StatusPaused
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}

	s.broadcast(ctx, videoID, &domain.SyncUpdateMessage{
		Type:           domain.MsgTypeSyncUpdate,
		VideoID:        videoID,
		Timestamp:      state.LastTimestamp,
		State:          domain.StatusPaused,
		DriftAllowance: domain.DriftAllowance,
		Force:          true,
	}, "")
	s.broadcast(ctx, videoID, &domain.LockUpdateMessage{
		Type:     domain.MsgTypeLockUpdate,
		VideoID:  videoID,
		LockedBy: state.MarkerLock,
	}, "")
	audit.Log(ctx, audit.ActionDrawLock, videoID, c.Identity, "draw lock granted")
	return nil
}

func (s *coordinator) HandleReleaseDrawLock(ctx context.Context, c *hub.Client, videoID string) error {
	state, err := s.load(ctx, c, videoID)
	if err != nil {
		return err
	}
	if !state.MarkerLock.HeldBy(c.Identity, c.ID) {
		return s.reject(c, domain.ErrCodeInvalidState, "You do not hold the draw lock")
	}

	state.MarkerLock = nil
	if err := s.save(ctx, c, videoID, state); err != nil {
		return err
	}

	s.broadcast(ctx, videoID, &domain.LockUpdateMessage{Type: domain.MsgTypeLockUpdate, VideoID: videoID}, "")
	audit.Log(ctx, audit.ActionDrawLockFreed, videoID, c.Identity, "draw lock released")
	return nil
}

// Ephemeral relay

var remoteTypes = map[string]string{
	domain.MsgTypeCursorMove:           domain.MsgTypeRemoteCursor,
	domain.MsgTypeDrawingStroke:        domain.MsgTypeRemoteStroke,
	domain.MsgTypeLiveAnnotationStroke: domain.MsgTypeRemoteLiveAnnotation,
}

func (s *coordinator) HandleEphemeral(ctx context.Context, c *hub.Client, msgType string, msg *domain.EphemeralMessage) error {
	out, ok := remoteTypes[msgType]
	if !ok {
		return s.reject(c, domain.ErrCodeBadRequest, "Unknown message type")
	}
	if !s.requireMember(c, msg.VideoID) {
		return nil
	}

	s.broadcast(ctx, msg.VideoID, &domain.RemoteSignalMessage{
		Type:         out,
		VideoID:      msg.VideoID,
		UserID:       c.Identity.ParticipantID(),
		UserName:     c.Identity.DisplayName(),
		ConnectionID: c.ID,
		Payload:      msg.Payload,
	}, c.ID)
	return nil
}

// Out-of-band

func (s *coordinator) Snapshot(ctx context.Context, videoID string) (*domain.RoomStateMessage, error) {
	state, err := s.load(ctx, nil, videoID)
	if err != nil {
		return nil, err
	}
	return domain.NewRoomStateMessage(videoID, state, state.ProjectedTime(s.clock.Now(), s.staleAfter)), nil
}

func (s *coordinator) NotifyNewComment(ctx context.Context, videoID string, comment json.RawMessage) error {
	return s.rooms.Broadcast(ctx, videoID, &domain.NewCommentMessage{
		Type:    domain.MsgTypeNewComment,
		VideoID: videoID,
		Comment: comment,
	}, "")
}

func (s *coordinator) NotifyDeleteComment(ctx context.Context, videoID, commentID string) error {
	return s.rooms.Broadcast(ctx, videoID, &domain.DeleteCommentMessage{
		Type:      domain.MsgTypeDeleteComment,
		VideoID:   videoID,
		CommentID: commentID,
	}, "")
}

func (s *coordinator) NotifyLockUpdate(ctx context.Context, videoID string, lock *domain.MarkerLock) error {
	return s.rooms.Broadcast(ctx, videoID, &domain.LockUpdateMessage{
		Type:     domain.MsgTypeLockUpdate,
		VideoID:  videoID,
		LockedBy: lock,
	}, "")
}
