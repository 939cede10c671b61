package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/agency-api/internal/database"
	"github.com/iliyamo/agency-api/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `u.id, u.email, u.password_hash, u.is_active, u.last_login, u.created_at, u.updated_at,
	COALESCE(r.role, 'user'), p.full_name
	FROM users u
	LEFT JOIN user_roles r ON r.user_id = u.id
	LEFT JOIN profiles p ON p.user_id = u.id`

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
		fullName  sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt, &u.Role, &fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	if fullName.Valid {
		n := fullName.String
		u.FullName = &n
	}
	return u, nil
}

// Create inserts the user, its role and its profile in one transaction, so
// a failure at any step leaves no orphaned user behind.  u.PasswordHash must
// already be hashed.  The stored user (with generated ID) is returned.
func (r *UserRepo) Create(ctx context.Context, u model.User, role string, now time.Time) (model.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Role = role
	u.IsActive = true
	u.CreatedAt = now
	u.UpdatedAt = now

	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (id, email, password_hash, is_active, created_at, updated_at) VALUES (?,?,?,1,?,?)",
			u.ID, u.Email, u.PasswordHash, now, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role) VALUES (?,?)",
			u.ID, role); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO profiles (id, user_id, email, full_name, created_at, updated_at) VALUES (?,?,?,?,?,?)",
			uuid.NewString(), u.ID, u.Email, u.FullName, now, now)
		return err
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return u, nil
}

// GetByEmail fetches a user (active or not) by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" WHERE u.email = ? LIMIT 1", email))
}

// GetActiveByID fetches an active user by id.  Inactive users are reported
// as ErrNotFound.
func (r *UserRepo) GetActiveByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" WHERE u.id = ? AND u.is_active = 1 LIMIT 1", id))
}

// TouchLastLogin records a successful login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET last_login = ? WHERE id = ?", at, id)
	return err
}

// UpdatePassword replaces the password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return r.updateOne(ctx, "UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", hash, at, id)
}

// SetActive flips the soft-disable flag.
func (r *UserRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.updateOne(ctx, "UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?", active, at, id)
}

// ListAdmins returns the active admin accounts ordered by creation.
func (r *UserRepo) ListAdmins(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" WHERE r.role = ? AND u.is_active = 1 ORDER BY u.created_at",
		model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetProfile fetches the profile row of userID.
func (r *UserRepo) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var (
		p                            model.Profile
		fullName, avatar, bio, phone sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, email, full_name, avatar_url, bio, phone, created_at, updated_at FROM profiles WHERE user_id = ? LIMIT 1",
		userID).Scan(&p.UserID, &p.Email, &fullName, &avatar, &bio, &phone, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}
	p.FullName, p.AvatarURL, p.Bio, p.Phone = nullable(fullName), nullable(avatar), nullable(bio), nullable(phone)
	return p, nil
}

// UpdateProfile writes the given profile fields of userID.  Keys outside
// model.ProfileFields are ignored; a nil value clears the column.  With
// nothing to write the row is left untouched.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID string, fields map[string]*string, at time.Time) error {
	var (
		set  []string
		args []any
	)
	for _, name := range model.ProfileFields {
		if v, ok := fields[name]; ok {
			set = append(set, name+" = ?")
			args = append(args, v)
		}
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = ?")
	args = append(args, at, userID)
	_, err := r.DB.ExecContext(ctx, "UPDATE profiles SET "+strings.Join(set, ", ")+" WHERE user_id = ?", args...)
	return err
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *UserRepo) updateOne(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
