// Package authtest provides in-memory stores satisfying the auth
// interfaces, for tests that should not need MySQL.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/repository"
)

// Users is an in-memory auth.UserStore.  Every created user gets a profile.
type Users struct {
	mu       sync.Mutex
	byID     map[string]model.User
	profiles map[string]model.Profile
	Err      error
}

func NewUsers() *Users {
	return &Users{byID: map[string]model.User{}, profiles: map[string]model.Profile{}}
}

func (s *Users) Create(_ context.Context, u model.User, role string, now time.Time) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, x := range s.byID {
		if x.Email == u.Email {
			return model.User{}, repository.ErrEmailExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt = role, true, now, now
	s.byID[u.ID] = u
	s.profiles[u.ID] = model.Profile{UserID: u.ID, Email: u.Email, FullName: u.FullName, CreatedAt: now, UpdatedAt: now}
	return u, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Users) GetActiveByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	u, ok := s.byID[id]
	if !ok || !u.IsActive {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *Users) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *model.User) { u.LastLogin = &at })
}

func (s *Users) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	return s.update(id, func(u *model.User) { u.PasswordHash, u.UpdatedAt = hash, at })
}

func (s *Users) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return s.update(id, func(u *model.User) { u.IsActive, u.UpdatedAt = active, at })
}

func (s *Users) GetProfile(_ context.Context, userID string) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.Profile{}, s.Err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return model.Profile{}, repository.ErrNotFound
	}
	return p, nil
}

func (s *Users) UpdateProfile(_ context.Context, userID string, fields map[string]*string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil
	}
	targets := map[string]**string{"full_name": &p.FullName, "avatar_url": &p.AvatarURL, "bio": &p.Bio, "phone": &p.Phone}
	changed := false
	for name, v := range fields {
		if dst, ok := targets[name]; ok {
			*dst, changed = v, true
		}
	}
	if changed {
		p.UpdatedAt = at
		s.profiles[userID] = p
		u := s.byID[userID]
		u.FullName = p.FullName
		s.byID[userID] = u
	}
	return nil
}

func (s *Users) update(id string, f func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	f(&u)
	s.byID[id] = u
	return nil
}

// Get returns the stored row, including the password hash.
func (s *Users) Get(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	return u, ok
}

// Tokens is an in-memory auth.TokenStore.
type Tokens struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*model.RefreshToken
	Err    error
}

func NewTokens() *Tokens { return &Tokens{rows: map[uint64]*model.RefreshToken{}} }

func (s *Tokens) StoreRefresh(_ context.Context, userID, hash string, exp, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	s.rows[s.nextID] = &model.RefreshToken{ID: s.nextID, UserID: userID, TokenHash: hash, ExpiresAt: exp, CreatedAt: now}
	return nil
}

func (s *Tokens) FindByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.RefreshToken{}, s.Err
	}
	for _, t := range s.rows {
		if t.TokenHash == hash {
			return *t, nil
		}
	}
	return model.RefreshToken{}, repository.ErrNotFound
}

func (s *Tokens) Consume(_ context.Context, id uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.rows[id]
	if !ok || t.Revoked || !now.Before(t.ExpiresAt) {
		return repository.ErrStale
	}
	t.Revoked, t.RevokedAt = true, &now
	return nil
}

func (s *Tokens) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, t := range s.rows {
		if t.UserID == userID && !t.Revoked {
			t.Revoked, t.RevokedAt = true, &now
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored record.
func (s *Tokens) All() []model.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RefreshToken, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, *t)
	}
	return out
}

// Events records published security events.
type Events struct {
	mu  sync.Mutex
	evs []queue.SecurityEvent
}

func (e *Events) Publish(_ context.Context, ev queue.SecurityEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, ev)
	return nil
}

// Kinds lists the kinds published so far, in order.
func (e *Events) Kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.evs))
	for i, ev := range e.evs {
		out[i] = ev.Kind
	}
	return out
}

// Last returns the most recent event.
func (e *Events) Last() queue.SecurityEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.evs) == 0 {
		return queue.SecurityEvent{}
	}
	return e.evs[len(e.evs)-1]
}
