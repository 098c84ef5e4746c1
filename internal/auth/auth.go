// Package auth authenticates sync socket handshakes against stored bearer tokens.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

// HashToken creates a SHA-256 hash of the token for lookup.
// NOTICE: plain tokens are never stored.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))

	return base64.StdEncoding.EncodeToString(hash[:])
}

// GenerateSecretToken creates a cryptographically secure random secret token.
// The token is base64url-encoded and 32 characters long.
func GenerateSecretToken() (string, error) {
	b := make([]byte, constants.SecretTokenByteSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// TokenFromRequest returns the bearer token of a handshake request.
// The Authorization header wins over the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get(constants.AuthorizationHeader); header != "" {
		if token, ok := strings.CutPrefix(header, constants.BearerPrefix); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(constants.QueryParamToken))
}

// Verifier resolves bearer tokens to user IDs and roles.
type Verifier struct {
	tokens database.TokenRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewVerifier creates a Verifier backed by the token repository.
func NewVerifier(tokens database.TokenRepository, log *slog.Logger) *Verifier {
	return &Verifier{tokens: tokens, now: time.Now, logger: log}
}

// Verify returns the user the token belongs to. Unknown, revoked and expired
// tokens fail with an auth-failed error; store failures are surfaced as
// database errors so that callers close with an internal error.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	record, err := v.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return record.UserID, nil
}

// Authenticate resolves the token to its live record, role included.
func (v *Verifier) Authenticate(ctx context.Context, token string) (*api.TokenRecord, error) {
	if token == "" {
		return nil, apperrors.ErrAuthFailed("missing token", nil)
	}

	record, err := v.tokens.GetTokenByHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.ErrAuthFailed("invalid token", nil)
	}
	if record.Expired(v.now().Unix()) {
		logger.DeriveRequestLogger(ctx, v.logger).Debug("rejected expired token", "context", map[string]any{
			"user_id":    record.UserID,
			"expires_at": record.ExpiresAt,
			"revoked":    record.Revoked,
		})
		return nil, apperrors.ErrAuthFailed("token expired or revoked", nil)
	}

	return record, nil
}
