package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

// DefaultTenantClaim is the JWT claim carrying the caller's tenant.
const DefaultTenantClaim = "tenant_id"

// Principal is the identity behind a validated bearer token. A token
// without a tenant claim must be an admin token.
type Principal struct {
	Subject  string
	TenantID string
	Admin    bool
}

type AuthService struct {
	jwtSecret   []byte
	tenantClaim string
}

func NewAuthService(jwtSecret, tenantClaim string) *AuthService {
	if tenantClaim == "" {
		tenantClaim = DefaultTenantClaim
	}
	return &AuthService{
		jwtSecret:   []byte(jwtSecret),
		tenantClaim: tenantClaim,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool { return len(s.jwtSecret) > 0 }

// ValidateJWT verifies an HMAC-signed bearer token and returns its principal.
func (s *AuthService) ValidateJWT(_ context.Context, tokenStr string) (*Principal, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	p := &Principal{}
	p.Subject, _ = claims.GetSubject()
	p.TenantID, _ = claims[s.tenantClaim].(string)
	p.Admin, _ = claims["admin"].(bool)
	if p.TenantID == "" && !p.Admin {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

// IssueJWT signs a token for subject. An empty tenantID issues an admin token.
func (s *AuthService) IssueJWT(_ context.Context, subject, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"iss": "reservoir",
	}
	if tenantID != "" {
		claims[s.tenantClaim] = tenantID
	} else {
		claims["admin"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
