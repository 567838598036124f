package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail parsing or verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims 自定义 JWT 声明
type Claims struct {
	UserID   int64    `json:"userId"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into a Caller.
type Resolver interface {
	Resolve(token string) (Caller, error)
}

// JWTResolver resolves HS256 tokens issued by the identity service.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver for the given shared secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve validates the token and maps its role tags onto tiers. Unknown
// tags are dropped.
func (r *JWTResolver) Resolve(token string) (Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return Caller{}, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	caller := Caller{UserID: claims.UserID, Name: claims.Username}
	for _, tag := range claims.Roles {
		if t, ok := ParseTier(tag); ok {
			caller.Roles = append(caller.Roles, t)
		}
	}
	return caller, nil
}

// Issue mints a token; used by the token CLI and tests.
func (r *JWTResolver) Issue(userID int64, username string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
