package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"relay/cmd/internal/chat"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the shortest accepted signing secret.
const MinSecretBytes = 32

// Claims are the connect token claims. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Resolver implements the gateway's identity lookup.
type Resolver struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSecret enables signed connect tokens.
func WithSecret(secret string) Option {
	return func(r *Resolver) { r.secret = []byte(secret) }
}

// WithIssuer sets the iss claim written by Issue and required by Resolve.
func WithIssuer(iss string) Option {
	return func(r *Resolver) { r.issuer = strings.TrimSpace(iss) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver. A configured secret shorter than MinSecretBytes is rejected.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if len(r.secret) > 0 && len(r.secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	return r, nil
}

// SignedTokens reports whether connect tokens are required.
func (r *Resolver) SignedTokens() bool { return len(r.secret) > 0 }

// Resolve returns the user id of an upgrade request.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	if !r.SignedTokens() {
		raw := req.URL.Query().Get("user_id")
		if strings.TrimSpace(raw) == "" {
			return "", badRequest(ErrMissingIdentity, "user_id query parameter is required")
		}
		userID, err := chat.NormalizeUserID(raw)
		if err != nil {
			return "", badRequest(ErrInvalidIdentity, "user_id must be 1..100 characters")
		}
		return userID, nil
	}

	token := strings.TrimSpace(req.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(req)
	}
	if token == "" {
		return "", unauthorized(ErrMissingIdentity, "token is required")
	}
	return r.Verify(token)
}

// Verify checks a connect token and returns its subject.
func (r *Resolver) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(r.leeway),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", unauthorized(ErrInvalidToken, "verification failed")
	}

	userID, err := chat.NormalizeUserID(claims.Subject)
	if err != nil {
		return "", unauthorized(ErrInvalidToken, "bad subject")
	}
	return userID, nil
}

// Issue signs a connect token for userID valid for ttl.
func (r *Resolver) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	if !r.SignedTokens() {
		return "", time.Time{}, fmt.Errorf("%w: no signing secret configured", ErrConfig)
	}
	userID, err := chat.NormalizeUserID(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	now := r.now().UTC()
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
