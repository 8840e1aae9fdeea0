package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conduit-lang/collections/internal/orm/entity"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or expiry checks
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingProject is returned for valid tokens without a project claim
	ErrMissingProject = errors.New("token has no project")
)

// Claims are the JWT claims of an API token. The project claim scopes every
// request made with the token.
type Claims struct {
	ProjectID entity.UUID `json:"project_id"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 project tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  func() time.Time
}

// NewTokenService creates a token service. A zero ttl issues tokens that do
// not expire.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, issuer: "collections", clock: time.Now}
}

// Issue signs a token for a project.
func (s *TokenService) Issue(projectID entity.UUID, subject string) (string, error) {
	if projectID.IsZero() {
		return "", ErrMissingProject
	}
	now := s.clock()
	claims := Claims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a token and returns its claims.
func (s *TokenService) Validate(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := entity.ParseUUID(string(claims.ProjectID)); err != nil {
		return nil, ErrMissingProject
	}
	return &claims, nil
}
