package access

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// GormRepository implements VideoRegistry and PermissionResolver over the
// videos and video_shares tables.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-based access repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Models lists the tables this repository needs migrated.
func Models() []interface{} {
	return []interface{}{&domain.VideoModel{}, &domain.VideoShareModel{}}
}

// GetVideo retrieves a video by ID.
func (r *GormRepository) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	var model domain.VideoModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", videoID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVideoNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldVideoID, videoID).Msg("failed to get video by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Resolve returns the identity's role on the video. Guests are confined to
// the video their share token was issued for.
func (r *GormRepository) Resolve(ctx context.Context, videoID string, identity domain.Identity) (domain.Role, error) {
	switch id := identity.(type) {
	case domain.Guest:
		if id.VideoID != videoID {
			return domain.RoleNone, nil
		}
		if id.IsEditor {
			return domain.RoleEditor, nil
		}
		return domain.RoleViewer, nil

	case domain.Authenticated:
		return r.resolveUser(ctx, videoID, id.ID)

	default:
		return domain.RoleNone, nil
	}
}

func (r *GormRepository) resolveUser(ctx context.Context, videoID, userID string) (domain.Role, error) {
	video, err := r.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return domain.RoleNone, nil
		}
		return domain.RoleNone, err
	}
	if video.OwnerID == userID {
		return domain.RoleOwner, nil
	}

	role := domain.RoleNone
	if video.IsPublic {
		role = video.PublicRole
	}

	var share domain.VideoShareModel
	result := r.db.WithContext(ctx).First(&share, "video_id = ? AND user_id = ?", videoID, userID)
	switch {
	case result.Error == nil:
		role = role.Max(domain.ParseRole(share.Role))
	case !errors.Is(result.Error, gorm.ErrRecordNotFound):
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldVideoID, videoID).Str(log.FieldUserID, userID).Msg("failed to get video share")
		return domain.RoleNone, result.Error
	}

	return role, nil
}

// SaveVideo inserts or updates a video row.
func (r *GormRepository) SaveVideo(ctx context.Context, video *domain.Video) error {
	model := &domain.VideoModel{
		ID:          video.ID,
		OwnerID:     video.OwnerID,
		Title:       video.Title,
		IsPublic:    video.IsPublic,
		PublicToken: video.PublicToken,
		PublicRole:  string(video.PublicRole),
	}
	if model.PublicRole == "" {
		model.PublicRole = string(domain.RoleViewer)
	}
	return r.db.WithContext(ctx).Save(model).Error
}

// GrantRole shares a video with a user, replacing any previous grant.
func (r *GormRepository) GrantRole(ctx context.Context, videoID, userID string, role domain.Role) error {
	share := &domain.VideoShareModel{VideoID: videoID, UserID: userID, Role: string(role)}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(share).Error
}
