package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
)

type fakeVideos map[string]*domain.Video

func (f fakeVideos) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	if v, ok := f[videoID]; ok {
		return v, nil
	}
	return nil, domain.ErrVideoNotFound
}

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	return f.revoked[token], f.err
}

func (f *fakeRevocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	f.revoked[token] = true
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *jwt.Manager, *fakeRevocations) {
	t.Helper()
	tokens, err := jwt.NewManager(jwt.Config{Secret: "test-secret", Issuer: "wes-io-live"})
	require.NoError(t, err)
	revoked := &fakeRevocations{revoked: map[string]bool{}}
	videos := fakeVideos{
		"v-view": {ID: "v-view", IsPublic: true, PublicToken: "view-tok", PublicRole: domain.RoleViewer},
		"v-edit": {ID: "v-edit", IsPublic: true, PublicToken: "edit-tok", PublicRole: domain.RoleEditor},
		"v-priv": {ID: "v-priv", IsPublic: false, PublicToken: "priv-tok", PublicRole: domain.RoleEditor},
	}
	return New(tokens, revoked, videos), tokens, revoked
}

func TestAuthenticate_Bearer(t *testing.T) {
	gw, tokens, _ := newTestGateway(t)
	token, err := tokens.GenerateAccessToken("user-1", "a@example.com", "alice")
	require.NoError(t, err)

	identity, err := gw.Authenticate(context.Background(), Credentials{Bearer: token})
	require.NoError(t, err)
	assert.Equal(t, domain.Authenticated{ID: "user-1", Name: "alice"}, identity)
}

func TestAuthenticate_RevokedBearerFallsThroughToShareToken(t *testing.T) {
	gw, tokens, revoked := newTestGateway(t)
	token, err := tokens.GenerateAccessToken("user-1", "", "alice")
	require.NoError(t, err)
	revoked.revoked[token] = true

	identity, err := gw.Authenticate(context.Background(), Credentials{
		Bearer: token, ShareToken: "view-tok", VideoID: "v-view",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Guest{VideoID: "v-view", IsEditor: false}, identity)

	_, err = gw.Authenticate(context.Background(), Credentials{Bearer: token})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestAuthenticate_RevocationOutageFallsThrough(t *testing.T) {
	gw, tokens, revoked := newTestGateway(t)
	token, err := tokens.GenerateAccessToken("user-1", "", "alice")
	require.NoError(t, err)
	revoked.err = errors.New("redis down")

	_, err = gw.Authenticate(context.Background(), Credentials{Bearer: token})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestAuthenticate_Guest(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	tests := []struct {
		name    string
		creds   Credentials
		want    domain.Identity
		wantErr bool
	}{
		{"public viewer", Credentials{ShareToken: "view-tok", VideoID: "v-view"}, domain.Guest{VideoID: "v-view"}, false},
		{"public editor", Credentials{ShareToken: "edit-tok", VideoID: "v-edit"}, domain.Guest{VideoID: "v-edit", IsEditor: true}, false},
		{"wrong token", Credentials{ShareToken: "edit-tok", VideoID: "v-view"}, nil, true},
		{"private video", Credentials{ShareToken: "priv-tok", VideoID: "v-priv"}, nil, true},
		{"unknown video", Credentials{ShareToken: "view-tok", VideoID: "nope"}, nil, true},
		{"token without video", Credentials{ShareToken: "view-tok"}, nil, true},
		{"garbage bearer only", Credentials{Bearer: "not-a-jwt"}, nil, true},
		{"nothing", Credentials{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := gw.Authenticate(context.Background(), tt.creds)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrAuthentication)
				assert.Nil(t, identity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, identity)
		})
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?shareToken=s&videoId=v1&token=q", nil)
	creds := CredentialsFromRequest(r)
	assert.Equal(t, Credentials{Bearer: "q", ShareToken: "s", VideoID: "v1"}, creds)

	r.Header.Set("Authorization", "Bearer h")
	creds = CredentialsFromRequest(r)
	assert.Equal(t, "h", creds.Bearer)
}
