package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

const (
	// SessionContext tags session tokens in the users_tokens table
	SessionContext = "session"
	// tokenBytes is the entropy of a raw session token (256 bits)
	tokenBytes = 32
)

// DefaultSessionValidity is how long a session token is accepted after
// issuance.
const DefaultSessionValidity = 60 * 24 * time.Hour

// ErrInvalidToken is returned when a presented token does not resolve
// to a live session
var ErrInvalidToken = errors.New("invalid or expired session token")

// GenerateSessionToken creates a raw session token and the digest that
// gets persisted. Only the digest is ever stored; the raw token is
// handed to the client once.
func GenerateSessionToken() (token string, digest []byte, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return token, sum[:], nil
}

// HashToken computes the storage digest of a raw token for lookup
func HashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// TokenStore persists session tokens in the users_tokens table for one
// namespace prefix.
type TokenStore struct {
	db       *sql.DB
	prefix   string
	validity time.Duration
	log      *observability.Logger
}

// NewTokenStore creates a token store. A zero validity falls back to
// DefaultSessionValidity.
func NewTokenStore(db *sql.DB, prefix string, validity time.Duration, log *observability.Logger) *TokenStore {
	if prefix == "" {
		prefix = "public"
	}
	if validity <= 0 {
		validity = DefaultSessionValidity
	}
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &TokenStore{db: db, prefix: prefix, validity: validity, log: log}
}

func (s *TokenStore) table(name string) string {
	return pq.QuoteIdentifier(s.prefix) + "." + name
}

// CreateSession issues a new session token for a user and returns the
// raw token.
func (s *TokenStore) CreateSession(ctx context.Context, userID int64) (string, error) {
	token, digest, err := GenerateSessionToken()
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, token, context, inserted_at)
		VALUES ($1, $2, $3, NOW())
	`, s.table("users_tokens"))

	if _, err := s.db.ExecContext(ctx, query, userID, digest, SessionContext); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

// VerifySession resolves a raw session token to the holding user. Only
// tokens within the validity window belonging to active accounts
// resolve.
func (s *TokenStore) VerifySession(ctx context.Context, token string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT t.user_id
		FROM %s t
		JOIN %s u ON u.id = t.user_id
		WHERE t.token = $1 AND t.context = $2
		  AND t.inserted_at > NOW() - $3::interval
		  AND u.is_active
	`, s.table("users_tokens"), s.table("users"))

	interval := fmt.Sprintf("%d seconds", int64(s.validity.Seconds()))

	var userID int64
	err := s.db.QueryRowContext(ctx, query, HashToken(token), SessionContext, interval).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("failed to verify session: %w", err)
	}
	return userID, nil
}

// DeleteSession invalidates one session token
func (s *TokenStore) DeleteSession(ctx context.Context, token string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE token = $1 AND context = $2
	`, s.table("users_tokens"))
	if _, err := s.db.ExecContext(ctx, query, HashToken(token), SessionContext); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteAllSessions invalidates every session the user holds, for
// logout-everywhere and password changes.
func (s *TokenStore) DeleteAllSessions(ctx context.Context, userID int64) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE user_id = $1 AND context = $2
	`, s.table("users_tokens"))
	if _, err := s.db.ExecContext(ctx, query, userID, SessionContext); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// PurgeExpired deletes session tokens past the validity window and
// returns how many were removed.
func (s *TokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE context = $1 AND inserted_at <= NOW() - $2::interval
	`, s.table("users_tokens"))

	interval := fmt.Sprintf("%d seconds", int64(s.validity.Seconds()))
	res, err := s.db.ExecContext(ctx, query, SessionContext, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return res.RowsAffected()
}
