package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, name, username, email, bio, image, location, portfolio, reputation, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.Bio,
		&user.Image,
		&user.Location,
		&user.Portfolio,
		&user.Reputation,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

// CreateUserWithAccount inserts a user and its sign-in account as one
// transaction, so a failed account insert never leaves an orphan user.
func (s *PostgresStore) CreateUserWithAccount(ctx context.Context, user User, account Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signup tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, name, username, email, bio, image, location, portfolio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Name, user.Username, user.Email, user.Bio, user.Image, user.Location, user.Portfolio); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	if err := insertAccount(ctx, tx, account); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signup tx: %w", err)
	}
	return nil
}

// EnsureOAuthUser upserts the user for an OAuth sign-in: creates the user on
// first contact, refreshes drifted name/image on later ones, and creates the
// provider account if it does not exist yet. One transaction.
func (s *PostgresStore) EnsureOAuthUser(ctx context.Context, user User, account Account) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin oauth tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing User
	err = tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, user.Email).Scan(
		&existing.ID,
		&existing.Name,
		&existing.Username,
		&existing.Email,
		&existing.Bio,
		&existing.Image,
		&existing.Location,
		&existing.Portfolio,
		&existing.Reputation,
		&existing.CreatedAt,
		&existing.UpdatedAt,
	)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, name, username, email, image)
			VALUES ($1, $2, $3, $4, $5)
		`, user.ID, user.Name, user.Username, user.Email, user.Image); err != nil {
			return User{}, fmt.Errorf("insert oauth user: %w", err)
		}
		existing = user
	case err != nil:
		return User{}, fmt.Errorf("lookup oauth user: %w", err)
	default:
		if existing.Name != user.Name || existing.Image != user.Image {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET name=$2, image=$3, updated_at=NOW() WHERE id=$1
			`, existing.ID, user.Name, user.Image); err != nil {
				return User{}, fmt.Errorf("refresh oauth user: %w", err)
			}
			existing.Name = user.Name
			existing.Image = user.Image
		}
	}

	var accountExists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE provider=$1 AND provider_account_id=$2)
	`, account.Provider, account.ProviderAccountID).Scan(&accountExists); err != nil {
		return User{}, fmt.Errorf("check oauth account: %w", err)
	}
	if !accountExists {
		account.UserID = existing.ID
		if err := insertAccount(ctx, tx, account); err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit oauth tx: %w", err)
	}
	return existing, nil
}

func insertAccount(ctx context.Context, tx *sql.Tx, account Account) error {
	passwordHash := sql.NullString{String: account.PasswordHash, Valid: account.PasswordHash != ""}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, image, password_hash, provider, provider_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.UserID, account.Name, account.Image, passwordHash, account.Provider, account.ProviderAccountID); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (Account, error) {
	var account Account
	var passwordHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, image, password_hash, provider, provider_account_id, created_at
		FROM accounts
		WHERE provider=$1 AND provider_account_id=$2
	`, provider, providerAccountID).Scan(
		&account.ID,
		&account.UserID,
		&account.Name,
		&account.Image,
		&passwordHash,
		&account.Provider,
		&account.ProviderAccountID,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	account.PasswordHash = passwordHash.String
	return account, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.username, u.email, u.bio, u.image, u.location, u.portfolio, u.reputation, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.Bio,
		&user.Image,
		&user.Location,
		&user.Portfolio,
		&user.Reputation,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ListTags returns a page of the tag directory, filtered by a
// case-insensitive name substring when query is set, plus the total count.
func (s *PostgresStore) ListTags(ctx context.Context, query string, skip, limit int) ([]Tag, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if skip < 0 {
		skip = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tags WHERE ($1='' OR name ILIKE '%' || $1 || '%')
	`, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tags: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, questions, created_at, updated_at
		FROM tags
		WHERE ($1='' OR name ILIKE '%' || $1 || '%')
		ORDER BY questions DESC, name ASC
		LIMIT $2 OFFSET $3
	`, query, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.Questions, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tags: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, questions, created_at, updated_at
		FROM tags
		WHERE id=$1
	`, tagID).Scan(&item.ID, &item.Name, &item.Questions, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Tag{}, err
	}
	return item, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
