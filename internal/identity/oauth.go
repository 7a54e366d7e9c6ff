package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// sessionClaims is the JWT payload minted for a completed
// authorization-code-with-PKCE exchange. The exchange itself is an external
// collaborator (spec.md §1 Non-goals); OAuthSessions only mints/validates
// the resulting session token.
type sessionClaims struct {
	Email   string `json:"email"`
	Display string `json:"display,omitempty"`
	jwt.RegisteredClaims
}

// OAuthSessions issues and validates signed session tokens, mirroring the
// teacher's JWTManager shape (applications/auth/manager.go) generalized
// from username/password login to OIDC-derived email identities.
type OAuthSessions struct {
	secret []byte
	mu     sync.Mutex
	issued map[string]time.Time // jti -> expiry, for revocation-on-logout
}

func NewOAuthSessions(secret string) *OAuthSessions {
	return &OAuthSessions{
		secret: []byte(secret),
		issued: make(map[string]time.Time),
	}
}

// Issue mints a session token for a principal resolved from a completed
// OIDC flow. The email is canonicalized end-to-end before being embedded.
func (s *OAuthSessions) Issue(email, display string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("oauth session secret not configured")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	jti := fmt.Sprintf("%d", time.Now().UnixNano())
	claims := sessionClaims{
		Email:   CanonicalizeEmail(email),
		Display: display,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   CanonicalizeEmail(email),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.issued[jti] = claims.ExpiresAt.Time
	s.mu.Unlock()
	return signed, nil
}

// Revoke invalidates a previously issued session by its token string.
func (s *OAuthSessions) Revoke(tokenString string) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.issued, claims.ID)
	s.mu.Unlock()
}

func (s *OAuthSessions) parse(tokenString string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// Resolve checks the session token's HS256 signature and expiry and looks
// it up in the in-memory set of issued sessions. No issuer metadata is
// fetched or consulted.
func (s *OAuthSessions) Resolve(tokenString string) (model.Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	claims, err := s.parse(tokenString)
	if err != nil {
		return model.Principal{}, apierr.Wrap(apierr.Unauthenticated, "invalid oauth session", err)
	}
	s.mu.Lock()
	_, live := s.issued[claims.ID]
	s.mu.Unlock()
	if !live {
		return model.Principal{}, apierr.New(apierr.Unauthenticated, "oauth session revoked or unknown")
	}
	return model.Principal{
		ID:      CanonicalizeEmail(claims.Email),
		Display: claims.Display,
		Source:  model.SourceOAuth,
	}, nil
}
