package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/weiawesome/wes-io-live/session-service/internal/access"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/middleware"
)

// Query parameters accepted on the websocket upgrade request.
const (
	QueryToken      = "token"
	QueryShareToken = "shareToken"
	QueryVideoID    = "videoId"
)

// Credentials is what a client presents when opening a connection.
type Credentials struct {
	Bearer     string
	ShareToken string
	VideoID    string
}

// CredentialsFromRequest reads credentials from the upgrade request. The
// bearer token may come from the Authorization header or the token query
// parameter, since browsers cannot set headers on websocket requests.
func CredentialsFromRequest(r *http.Request) Credentials {
	q := r.URL.Query()
	bearer := middleware.BearerToken(r.Header.Get(middleware.AuthHeaderKey))
	if bearer == "" {
		bearer = q.Get(QueryToken)
	}
	return Credentials{
		Bearer:     bearer,
		ShareToken: q.Get(QueryShareToken),
		VideoID:    q.Get(QueryVideoID),
	}
}

// Gateway turns connection credentials into exactly one Identity.
type Gateway struct {
	tokens  *jwt.Manager
	revoked access.RevocationList
	videos  access.VideoRegistry
}

// New creates a gateway. revoked may be nil.
func New(tokens *jwt.Manager, revoked access.RevocationList, videos access.VideoRegistry) *Gateway {
	return &Gateway{tokens: tokens, revoked: revoked, videos: videos}
}

// Authenticate resolves creds. A bearer credential is tried first and any
// failure with it falls through to the share token; when neither resolves
// the result wraps domain.ErrAuthentication.
func (g *Gateway) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	l := log.Ctx(ctx)

	if creds.Bearer != "" {
		identity, err := g.authenticateBearer(ctx, creds.Bearer)
		if err == nil {
			return identity, nil
		}
		l.Debug().Err(err).Msg("bearer credential rejected, trying share token")
	}

	if creds.ShareToken != "" && creds.VideoID != "" {
		identity, err := g.authenticateGuest(ctx, creds.ShareToken, creds.VideoID)
		if err == nil {
			return identity, nil
		}
		l.Debug().Err(err).Str(log.FieldVideoID, creds.VideoID).Msg("share token rejected")
	}

	return nil, domain.ErrAuthentication
}

func (g *Gateway) authenticateBearer(ctx context.Context, token string) (domain.Identity, error) {
	if g.revoked != nil {
		revoked, err := g.revoked.IsRevoked(ctx, token)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, errors.New("token revoked")
		}
	}

	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return domain.Authenticated{ID: claims.UserID, Name: claims.Username}, nil
}

func (g *Gateway) authenticateGuest(ctx context.Context, shareToken, videoID string) (domain.Identity, error) {
	video, err := g.videos.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !video.IsPublic || video.PublicToken == "" {
		return nil, errors.New("video is not public")
	}
	if subtle.ConstantTimeCompare([]byte(video.PublicToken), []byte(shareToken)) != 1 {
		return nil, errors.New("share token mismatch")
	}
	return domain.Guest{VideoID: videoID, IsEditor: video.PublicRole.CanEdit()}, nil
}
