// Package auth is the authentication state machine: it turns credentials
// into access/refresh token pairs, resolves bearer tokens to live accounts,
// rotates refresh tokens one use at a time and revokes sessions.
//
// Expected outcomes (bad credentials, bad token, no token) are sentinel
// errors or nil results; any other error is a store fault.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/repository"
	"github.com/iliyamo/agency-api/internal/token"
	"github.com/iliyamo/agency-api/internal/utils"
)

var (
	// ErrInvalidCredentials covers unknown email, inactive account and
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken covers malformed, forged, expired, revoked and
	// replayed refresh tokens alike.
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrEmailTaken   = errors.New("email already registered")
	// ErrUnauthenticated is returned by operations that need a user when
	// none was resolved.
	ErrUnauthenticated = errors.New("authentication required")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidRole     = errors.New("unknown role")
	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// MaxPasswordBytes is the bcrypt input limit.
const MaxPasswordBytes = 72

// UserStore is the account storage the authenticator needs.
type UserStore interface {
	Create(ctx context.Context, u model.User, role string, now time.Time) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetActiveByID(ctx context.Context, id string) (model.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, fields map[string]*string, at time.Time) error
}

// TokenStore keeps refresh token hashes.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp, now time.Time) error
	FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	Consume(ctx context.Context, id uint64, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

// EventPublisher receives security events.  Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SecurityEvent) error
}

// Options tunes token lifetimes and hashing.  Zero values get defaults.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

// Session is what a successful login, registration or refresh returns.
type Session struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"` // seconds
}

type Authenticator struct {
	users  UserStore
	tokens TokenStore
	codec  *token.Codec
	events EventPublisher
	opts   Options
	log    *zap.Logger
}

// New wires an authenticator.  events and log may be nil.
func New(users UserStore, tokens TokenStore, codec *token.Codec, events EventPublisher, opts Options, log *zap.Logger) *Authenticator {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{users: users, tokens: tokens, codec: codec, events: events, opts: opts, log: log}
}

func (a *Authenticator) now() time.Time { return a.opts.Now().UTC() }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register creates a regular account and signs it in.
func (a *Authenticator) Register(ctx context.Context, email, password string, fullName *string) (*Session, error) {
	return a.RegisterWithRole(ctx, email, password, fullName, model.RoleUser)
}

// RegisterWithRole creates an account holding role and signs it in.
func (a *Authenticator) RegisterWithRole(ctx context.Context, email, password string, fullName *string, role string) (*Session, error) {
	u, err := a.CreateAccount(ctx, email, password, fullName, role)
	if err != nil {
		return nil, err
	}
	return a.signIn(ctx, u)
}

// CreateAccount stores a new account without issuing tokens.  User, role
// and profile rows are written in one transaction by the store.
func (a *Authenticator) CreateAccount(ctx context.Context, email, password string, fullName *string, role string) (model.User, error) {
	if role != model.RoleUser && role != model.RoleAdmin {
		return model.User{}, ErrInvalidRole
	}
	if len(password) > MaxPasswordBytes {
		return model.User{}, ErrPasswordTooLong
	}
	email = normalizeEmail(email)

	_, err := a.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return model.User{}, ErrEmailTaken
	case !errors.Is(err, repository.ErrNotFound):
		return model.User{}, fmt.Errorf("auth: lookup email: %w", err)
	}

	hash, err := utils.HashPassword(password, a.opts.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	u, err := a.users.Create(ctx, model.User{Email: email, PasswordHash: hash, FullName: fullName}, role, a.now())
	if errors.Is(err, repository.ErrEmailExists) {
		return model.User{}, ErrEmailTaken
	}
	if err != nil {
		return model.User{}, fmt.Errorf("auth: create user: %w", err)
	}
	a.log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", role))
	return u, nil
}

// Login checks credentials and issues a new token pair.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	u, err := a.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password, a.opts.BcryptCost)
		a.emit(ctx, queue.KindLoginFailed, "", "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		a.emit(ctx, queue.KindLoginFailed, u.ID, "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		a.emit(ctx, queue.KindLoginFailed, u.ID, "inactive account")
		return nil, ErrInvalidCredentials
	}
	return a.signIn(ctx, u)
}

func (a *Authenticator) signIn(ctx context.Context, u model.User) (*Session, error) {
	now := a.now()
	if err := a.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, fmt.Errorf("auth: touch last login: %w", err)
	}
	u.LastLogin = &now
	return a.issue(ctx, u)
}

// issue signs an access/refresh pair for u and stores the refresh hash.
func (a *Authenticator) issue(ctx context.Context, u model.User) (*Session, error) {
	access, err := a.codec.IssueAccess(u.ID, u.Email, u.Role, a.opts.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access: %w", err)
	}
	refresh, err := a.codec.IssueRefresh(u.ID, a.opts.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh: %w", err)
	}
	if err := a.tokens.StoreRefresh(ctx, u.ID, utils.SHA256Hex(refresh.Token), refresh.ExpiresAt, a.now()); err != nil {
		return nil, fmt.Errorf("auth: store refresh: %w", err)
	}
	u.PasswordHash = ""
	return &Session{
		User:         u,
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.opts.AccessTTL / time.Second),
	}, nil
}

// Authenticate resolves an access token to its live account.  A nil user
// with a nil error means anonymous: no token, a bad token, or an account
// that is gone or disabled.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, nil
	}
	claims, err := a.codec.VerifyAccess(raw)
	if err != nil {
		return nil, nil
	}
	u, err := a.users.GetActiveByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return &u, nil
}

// Refresh exchanges a refresh token for a new pair.  Each refresh token
// works once: the matched record is revoked by a conditional update, so of
// two concurrent refreshes with the same token only one succeeds.
func (a *Authenticator) Refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := a.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rec, err := a.tokens.FindByHash(ctx, utils.SHA256Hex(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find refresh: %w", err)
	}
	now := a.now()
	if rec.Revoked {
		a.log.Warn("revoked refresh token presented", zap.String("user_id", rec.UserID), zap.Uint64("token_id", rec.ID))
		a.emit(ctx, queue.KindRefreshReuse, rec.UserID, "revoked token presented")
		return nil, ErrInvalidToken
	}
	if !rec.Live(now) || rec.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}

	u, err := a.users.GetActiveByID(ctx, rec.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}

	err = a.tokens.Consume(ctx, rec.ID, now)
	if errors.Is(err, repository.ErrStale) {
		a.emit(ctx, queue.KindRefreshReuse, rec.UserID, "concurrent refresh lost the race")
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: consume refresh: %w", err)
	}
	return a.issue(ctx, u)
}

// Logout revokes every refresh token of u, signing out all devices.
// Outstanding access tokens stay valid until they expire.
func (a *Authenticator) Logout(ctx context.Context, u *model.User) error {
	if u == nil {
		return ErrUnauthenticated
	}
	n, err := a.tokens.RevokeAllForUser(ctx, u.ID, a.now())
	if err != nil {
		return fmt.Errorf("auth: revoke tokens: %w", err)
	}
	a.emit(ctx, queue.KindLogoutAll, u.ID, fmt.Sprintf("%d sessions revoked", n))
	return nil
}

// ChangePassword replaces the password after checking the current one and
// ends all sessions.
func (a *Authenticator) ChangePassword(ctx context.Context, u *model.User, current, next string) error {
	if u == nil {
		return ErrUnauthenticated
	}
	fresh, err := a.users.GetActiveByID(ctx, u.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUnauthenticated
	}
	if err != nil {
		return fmt.Errorf("auth: load user: %w", err)
	}
	if !utils.VerifyPassword(fresh.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if len(next) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	hash, err := utils.HashPassword(next, a.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := a.users.UpdatePassword(ctx, u.ID, hash, a.now()); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if _, err := a.tokens.RevokeAllForUser(ctx, u.ID, a.now()); err != nil {
		return fmt.Errorf("auth: revoke tokens: %w", err)
	}
	a.emit(ctx, queue.KindPasswordChanged, u.ID, "")
	return nil
}

// Profile returns the profile of u.
func (a *Authenticator) Profile(ctx context.Context, u *model.User) (model.Profile, error) {
	if u == nil {
		return model.Profile{}, ErrUnauthenticated
	}
	p, err := a.users.GetProfile(ctx, u.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Profile{}, ErrUserNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("auth: load profile: %w", err)
	}
	return p, nil
}

// UpdateProfile writes the editable profile fields present in fields and
// returns the stored profile.  Other keys are ignored.
func (a *Authenticator) UpdateProfile(ctx context.Context, u *model.User, fields map[string]*string) (model.Profile, error) {
	if u == nil {
		return model.Profile{}, ErrUnauthenticated
	}
	if err := a.users.UpdateProfile(ctx, u.ID, fields, a.now()); err != nil {
		return model.Profile{}, fmt.Errorf("auth: update profile: %w", err)
	}
	return a.Profile(ctx, u)
}

// SetActive enables or disables an account.  Disabling takes effect on the
// next request of any outstanding access token and revokes refresh tokens.
func (a *Authenticator) SetActive(ctx context.Context, userID string, active bool) error {
	err := a.users.SetActive(ctx, userID, active, a.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("auth: set active: %w", err)
	}
	if !active {
		if _, err := a.tokens.RevokeAllForUser(ctx, userID, a.now()); err != nil {
			return fmt.Errorf("auth: revoke tokens: %w", err)
		}
	}
	a.log.Info("account activation changed", zap.String("user_id", userID), zap.Bool("active", active))
	return nil
}

func (a *Authenticator) emit(ctx context.Context, kind, userID, detail string) {
	if a.events == nil {
		return
	}
	ev := queue.NewEvent(kind, userID, ClientIPFrom(ctx), detail, a.now())
	if err := a.events.Publish(ctx, ev); err != nil {
		a.log.Warn("security event not published", zap.String("kind", kind), zap.Error(err))
	}
}
