package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables used by the auth and throttling layer.  Every
// statement is idempotent so Migrate can run on each deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		last_login    DATETIME     NULL,
		created_at    DATETIME     NOT NULL,
		updated_at    DATETIME     NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id CHAR(36)    NOT NULL PRIMARY KEY,
		role    VARCHAR(16) NOT NULL DEFAULT 'user',
		CONSTRAINT fk_user_roles_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		user_id    CHAR(36)     NOT NULL,
		email      VARCHAR(255) NOT NULL,
		full_name  VARCHAR(100) NULL,
		avatar_url VARCHAR(500) NULL,
		bio        TEXT         NULL,
		phone      VARCHAR(32)  NULL,
		created_at DATETIME     NOT NULL,
		updated_at DATETIME     NOT NULL,
		UNIQUE KEY uq_profiles_user (user_id),
		CONSTRAINT fk_profiles_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    CHAR(36)   NOT NULL,
		token_hash CHAR(64)   NOT NULL,
		expires_at DATETIME   NOT NULL,
		revoked    TINYINT(1) NOT NULL DEFAULT 0,
		revoked_at DATETIME   NULL,
		created_at DATETIME   NOT NULL,
		UNIQUE KEY uq_refresh_tokens_hash (token_hash),
		KEY idx_refresh_tokens_user (user_id),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS rate_limits (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		identifier  CHAR(64)    NOT NULL,
		ip_address  VARCHAR(45) NOT NULL,
		created_at  DATETIME(6) NOT NULL,
		KEY idx_rate_limits_identifier (identifier, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS blocked_ips (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		ip_address    VARCHAR(45)  NOT NULL,
		blocked_until DATETIME     NOT NULL,
		reason        VARCHAR(255) NOT NULL DEFAULT '',
		KEY idx_blocked_ips_ip (ip_address, blocked_until)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// column is a column added after a table was first created.  MySQL has no
// ADD COLUMN IF NOT EXISTS, so presence is checked in information_schema.
type column struct {
	table, name, ddl string
}

var added = []column{
	{"refresh_tokens", "revoked_at", "ALTER TABLE refresh_tokens ADD COLUMN revoked_at DATETIME NULL AFTER revoked"},
	{"profiles", "avatar_url", "ALTER TABLE profiles ADD COLUMN avatar_url VARCHAR(500) NULL AFTER full_name"},
	{"profiles", "bio", "ALTER TABLE profiles ADD COLUMN bio TEXT NULL AFTER avatar_url"},
	{"profiles", "phone", "ALTER TABLE profiles ADD COLUMN phone VARCHAR(32) NULL AFTER bio"},
}

// Migrate applies the schema, then adds columns missing from tables
// created by older versions.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	for _, c := range added {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?",
			c.table, c.name).Scan(&n)
		if err != nil {
			return fmt.Errorf("migrate check %s.%s: %w", c.table, c.name, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("migrate add %s.%s: %w", c.table, c.name, err)
		}
	}
	return nil
}
