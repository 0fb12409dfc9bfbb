package handler

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/session-service/internal/access"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/internal/service"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/session-service/pkg/response"
)

// Handler handles HTTP requests for session service.
type Handler struct {
	sessions       service.SessionService
	perms          access.PermissionResolver
	caches         access.Invalidator
	authMiddleware *middleware.AuthMiddleware
	internalToken  string
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions service.SessionService, perms access.PermissionResolver, caches access.Invalidator, authMiddleware *middleware.AuthMiddleware, internalToken string) *Handler {
	if caches == nil {
		caches = access.Invalidators{}
	}
	return &Handler{
		sessions:       sessions,
		perms:          perms,
		caches:         caches,
		authMiddleware: authMiddleware,
		internalToken:  internalToken,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/videos/:videoId/session", h.authMiddleware.RequireAuth(), h.GetSession)
	}

	// Called by the comment layer after it has persisted a change.
	internal := r.Group("/internal/v1", middleware.RequireInternalToken(h.internalToken))
	{
		internal.POST("/videos/:videoId/comments", h.BroadcastNewComment)
		internal.DELETE("/videos/:videoId/comments/:commentId", h.BroadcastDeleteComment)
		internal.POST("/videos/:videoId/lock", h.BroadcastLockUpdate)
		// Called by the sharing layer after shares or the public token change.
		internal.POST("/videos/:videoId/access/invalidate", h.InvalidateAccess)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// GetSession returns the same snapshot join_room produces.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	videoID := c.Param("videoId")

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Fail(c, response.CodeUnauthorized, "unauthorized")
		return
	}

	identity := domain.Authenticated{ID: userID, Name: middleware.GetUsername(c)}
	role, err := h.perms.Resolve(ctx, videoID, identity)
	if err != nil {
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to resolve role")
		response.Fail(c, response.CodeInternal, "failed to check permissions")
		return
	}
	if !role.CanView() {
		response.Fail(c, response.CodeForbidden, "you do not have access to this video")
		return
	}

	snapshot, err := h.sessions.Snapshot(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("session state unavailable")
			response.Fail(c, response.CodeUnavailable, "session state unavailable")
			return
		}
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to read session")
		response.Fail(c, response.CodeInternal, "failed to read session")
		return
	}

	response.Success(c, snapshot)
}

// commentRequest carries the comment exactly as the comment layer stored it.
type commentRequest struct {
	Comment json.RawMessage `json:"comment" binding:"required"`
}

// BroadcastNewComment relays a new comment to the room.
func (h *Handler) BroadcastNewComment(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	videoID := c.Param("videoId")

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind comment broadcast request")
		response.Fail(c, response.CodeBadRequest, err.Error())
		return
	}

	if err := h.sessions.NotifyNewComment(ctx, videoID, req.Comment); err != nil {
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to broadcast new comment")
		response.Fail(c, response.CodeInternal, "failed to broadcast comment")
		return
	}
	response.Accepted(c, gin.H{"videoId": videoID})
}

// BroadcastDeleteComment relays a comment deletion to the room.
func (h *Handler) BroadcastDeleteComment(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	videoID := c.Param("videoId")
	commentID := c.Param("commentId")

	if err := h.sessions.NotifyDeleteComment(ctx, videoID, commentID); err != nil {
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to broadcast comment deletion")
		response.Fail(c, response.CodeInternal, "failed to broadcast comment deletion")
		return
	}
	response.Accepted(c, gin.H{"videoId": videoID, "commentId": commentID})
}

type lockRequest struct {
	LockedBy *domain.MarkerLock `json:"lockedBy"`
}

// BroadcastLockUpdate relays a lock change to the room. A null lockedBy
// announces the lock as free.
func (h *Handler) BroadcastLockUpdate(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	videoID := c.Param("videoId")

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind lock broadcast request")
		response.Fail(c, response.CodeBadRequest, err.Error())
		return
	}

	if err := h.sessions.NotifyLockUpdate(ctx, videoID, req.LockedBy); err != nil {
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to broadcast lock update")
		response.Fail(c, response.CodeInternal, "failed to broadcast lock update")
		return
	}
	response.Accepted(c, gin.H{"videoId": videoID})
}

// InvalidateAccess drops cached roles and video lookups for a video.
func (h *Handler) InvalidateAccess(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	videoID := c.Param("videoId")

	if err := h.caches.Invalidate(ctx, videoID); err != nil {
		l.Error().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to invalidate access caches")
		response.Fail(c, response.CodeUnavailable, "failed to invalidate access caches")
		return
	}
	response.Accepted(c, gin.H{"videoId": videoID})
}
