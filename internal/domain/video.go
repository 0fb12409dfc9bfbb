package domain

import "time"

// Role is a participant's right on one video, ordered none < viewer < editor < owner.
type Role string

const (
	RoleNone   Role = "none"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// CanView reports whether the role may join the room.
func (r Role) CanView() bool { return r.rank() >= RoleViewer.rank() }

// CanEdit reports whether the role may drive playback or annotate.
func (r Role) CanEdit() bool { return r.rank() >= RoleEditor.rank() }

// Max returns the stronger of the two roles.
func (r Role) Max(o Role) Role {
	if o.rank() > r.rank() {
		return o
	}
	return r
}

// ParseRole maps a stored string onto a Role, treating unknown values as none.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleOwner, RoleEditor, RoleViewer:
		return Role(s)
	default:
		return RoleNone
	}
}

// Video is the slice of the video registry the coordinator needs.
type Video struct {
	ID          string
	OwnerID     string
	Title       string
	IsPublic    bool
	PublicToken string
	// PublicRole is the role granted to holders of the public share token.
	PublicRole Role
}

// VideoModel is the GORM model for the videos table.
type VideoModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	OwnerID     string    `gorm:"type:varchar(36);index;not null"`
	Title       string    `gorm:"type:varchar(200);not null"`
	IsPublic    bool      `gorm:"not null;default:false"`
	PublicToken string    `gorm:"type:varchar(64);index"`
	PublicRole  string    `gorm:"type:varchar(16);not null;default:'viewer'"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for VideoModel.
func (VideoModel) TableName() string {
	return "videos"
}

// ToDomain converts VideoModel to domain Video.
func (m *VideoModel) ToDomain() *Video {
	return &Video{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Title:       m.Title,
		IsPublic:    m.IsPublic,
		PublicToken: m.PublicToken,
		PublicRole:  ParseRole(m.PublicRole),
	}
}

// VideoShareModel grants a user a role on a video.
type VideoShareModel struct {
	VideoID   string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);primaryKey"`
	Role      string    `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for VideoShareModel.
func (VideoShareModel) TableName() string {
	return "video_shares"
}
