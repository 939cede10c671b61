package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/auth/authtest"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/token"
)

type fixture struct {
	a      *auth.Authenticator
	users  *authtest.Users
	tokens *authtest.Tokens
	events *authtest.Events
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  authtest.NewUsers(),
		tokens: authtest.NewTokens(),
		events: &authtest.Events{},
		now:    time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", clock)
	f.a = auth.New(f.users, f.tokens, codec, f.events, auth.Options{
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        clock,
	}, nil)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *auth.Session {
	t.Helper()
	s, err := f.a.Register(context.Background(), email, password, nil)
	require.NoError(t, err)
	return s
}

func TestRegisterThenAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.register(t, "a@b.com", "password123")
	assert.NotEmpty(t, s.AccessToken)
	assert.NotEmpty(t, s.RefreshToken)
	assert.Equal(t, "Bearer", s.TokenType)
	assert.EqualValues(t, 3600, s.ExpiresIn)
	assert.Equal(t, model.RoleUser, s.User.Role)

	body, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), "$2a$")

	u, err := f.a.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, s.User.ID, u.ID)
	assert.Equal(t, "user", u.Role)
}

func TestRegisterNormalizesAndRejectsTakenEmail(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "  Mixed@Case.COM ", "password123")
	assert.Equal(t, "mixed@case.com", s.User.Email)

	_, err := f.a.Register(context.Background(), "mixed@case.com", "x", nil)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestRegisterWithRole(t *testing.T) {
	f := newFixture(t)
	s, err := f.a.RegisterWithRole(context.Background(), "root@b.com", "password123", nil, model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, s.User.IsAdmin())

	_, err = f.a.RegisterWithRole(context.Background(), "x@b.com", "password123", nil, "owner")
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
}

func TestCreateAccountIssuesNoTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.a.CreateAccount(ctx, " Root@B.com ", "password123", nil, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "root@b.com", u.Email)
	assert.Empty(t, f.tokens.All())

	_, err = f.a.CreateAccount(ctx, "root@b.com", "password123", nil, model.RoleAdmin)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	s, err := f.a.Login(ctx, "root@b.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, s.User.Role)
}

func TestPasswordByteLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("€", 40)

	_, err := f.a.Register(ctx, "a@b.com", long, nil)
	assert.ErrorIs(t, err, auth.ErrPasswordTooLong)

	s := f.register(t, "b@b.com", "password123")
	err = f.a.ChangePassword(ctx, &s.User, "password123", long)
	assert.ErrorIs(t, err, auth.ErrPasswordTooLong)
	_, err = f.a.Login(ctx, "b@b.com", "password123")
	assert.NoError(t, err, "password unchanged")
}

func TestRegisterStoresHashOnly(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@b.com", "password123")

	stored, ok := f.users.Get(s.User.ID)
	require.True(t, ok)
	assert.NotEqual(t, "password123", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))

	rows := f.tokens.All()
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].TokenHash, 64)
	assert.NotEqual(t, s.RefreshToken, rows[0].TokenHash)
}

func TestLoginEnumerationResistance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "realuser@x.com", "password123")

	_, errUnknown := f.a.Login(ctx, "nonexistent@x.com", "anything")
	_, errWrong := f.a.Login(ctx, "realuser@x.com", "wrongpassword")

	assert.ErrorIs(t, errUnknown, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, auth.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.Equal(t, "invalid email or password", errWrong.Error())
	assert.Equal(t, []string{queue.KindLoginFailed, queue.KindLoginFailed}, f.events.Kinds())
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")
	require.NoError(t, f.a.SetActive(ctx, s.User.ID, false))

	_, err := f.a.Login(ctx, "a@b.com", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginUpdatesLastLogin(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@b.com", "password123")
	f.now = f.now.Add(time.Hour)

	got, err := f.a.Login(context.Background(), "A@B.com", "password123")
	require.NoError(t, err)
	require.NotNil(t, got.User.LastLogin)
	assert.Equal(t, f.now, *got.User.LastLogin)

	stored, _ := f.users.Get(s.User.ID)
	assert.Equal(t, f.now, *stored.LastLogin)
}

func TestAuthenticateAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")

	for _, raw := range []string{"", "garbage", s.RefreshToken} {
		u, err := f.a.Authenticate(ctx, raw)
		assert.NoError(t, err)
		assert.Nil(t, u, "token %q", raw)
	}

	f.now = f.now.Add(time.Hour)
	u, err := f.a.Authenticate(ctx, s.AccessToken)
	assert.NoError(t, err)
	assert.Nil(t, u, "expired")
}

func TestAuthenticateStoreFailure(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@b.com", "password123")
	f.users.Err = errors.New("db down")

	u, err := f.a.Authenticate(context.Background(), s.AccessToken)
	assert.Nil(t, u)
	assert.ErrorIs(t, err, f.users.Err)
}

func TestDeactivationInvalidatesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")

	require.NoError(t, f.a.SetActive(ctx, s.User.ID, false))

	u, err := f.a.Authenticate(ctx, s.AccessToken)
	assert.NoError(t, err)
	assert.Nil(t, u)
	_, err = f.a.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	assert.ErrorIs(t, f.a.SetActive(ctx, "missing", true), auth.ErrUserNotFound)
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")

	f.now = f.now.Add(6 * 24 * time.Hour)
	next, err := f.a.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)
	for _, rec := range f.tokens.All() {
		if rec.Revoked {
			require.NotNil(t, rec.RevokedAt)
			assert.Equal(t, f.now, *rec.RevokedAt, "revocation time, not creation time")
		}
	}
	assert.NotEqual(t, s.AccessToken, next.AccessToken)
	assert.Equal(t, s.User.ID, next.User.ID)

	_, err = f.a.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Equal(t, queue.KindRefreshReuse, f.events.Last().Kind)

	_, err = f.a.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
	_, err = f.a.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")

	cases := map[string]string{
		"access token": s.AccessToken,
		"garbage":      "a.b.c",
		"empty":        "",
	}
	for name, raw := range cases {
		_, err := f.a.Refresh(ctx, raw)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, name)
	}

	f.now = f.now.Add(7 * 24 * time.Hour)
	_, err := f.a.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken, "expired")
}

func TestRefreshUnknownButSigned(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@b.com", "password123")
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", func() time.Time { return f.now })
	forged, err := codec.IssueRefresh(s.User.ID, time.Hour)
	require.NoError(t, err)

	_, err = f.a.Refresh(context.Background(), forged.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@b.com", "password123")

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.a.Refresh(context.Background(), s.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@b.com", "password123")

	a, err := f.a.Login(ctx, "a@b.com", "password123")
	require.NoError(t, err)
	b, err := f.a.Login(ctx, "a@b.com", "password123")
	require.NoError(t, err)

	u, err := f.a.Authenticate(ctx, a.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.a.Logout(ctx, u))

	_, err = f.a.Refresh(ctx, a.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = f.a.Refresh(ctx, b.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Contains(t, f.events.Kinds(), queue.KindLogoutAll)

	assert.ErrorIs(t, f.a.Logout(ctx, nil), auth.ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")
	u := &s.User

	assert.ErrorIs(t, f.a.ChangePassword(ctx, u, "nope", "newpassword1"), auth.ErrInvalidCredentials)
	require.NoError(t, f.a.ChangePassword(ctx, u, "password123", "newpassword1"))

	_, err := f.a.Login(ctx, "a@b.com", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.a.Login(ctx, "a@b.com", "newpassword1")
	assert.NoError(t, err)

	_, err = f.a.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken, "sessions end on password change")
	assert.Contains(t, f.events.Kinds(), queue.KindPasswordChanged)

	assert.ErrorIs(t, f.a.ChangePassword(ctx, nil, "a", "b"), auth.ErrUnauthenticated)
}

func TestStoreFailureIsNotACredentialError(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@b.com", "password123")
	f.users.Err = errors.New("connection reset")

	_, err := f.a.Login(context.Background(), "a@b.com", "password123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, err, f.users.Err)
}

func TestEventsCarryClientIP(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithClientIP(context.Background(), "8.8.8.8")

	_, _ = f.a.Login(ctx, "ghost@b.com", "x")
	ev := f.events.Last()
	assert.Equal(t, queue.KindLoginFailed, ev.Kind)
	assert.Equal(t, "8.8.8.8", ev.IP)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, f.now, ev.OccurredAt)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", auth.TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", auth.TokenFromRequest(r))

	r.Header.Set("Authorization", "bearer  xyz")
	assert.Equal(t, "xyz", auth.TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/stream?token=q.r.s", nil)
	assert.Equal(t, "q.r.s", auth.TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "q.r.s", auth.TokenFromRequest(r))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@b.com", "password123")
	created := f.now

	f.now = f.now.Add(time.Hour)
	bio, email := "hello", "evil@x.com"
	p, err := f.a.UpdateProfile(ctx, &s.User, map[string]*string{"bio": &bio, "email": &email})
	require.NoError(t, err)
	require.NotNil(t, p.Bio)
	assert.Equal(t, "hello", *p.Bio)
	assert.Equal(t, "a@b.com", p.Email)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, f.now, p.UpdatedAt)

	f.now = f.now.Add(time.Hour)
	p, err = f.a.UpdateProfile(ctx, &s.User, map[string]*string{})
	require.NoError(t, err)
	assert.Equal(t, created.Add(time.Hour), p.UpdatedAt, "empty update leaves the row alone")

	_, err = f.a.UpdateProfile(ctx, nil, nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.a.Profile(ctx, &model.User{ID: "missing"})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
