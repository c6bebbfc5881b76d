package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/annel0/netsync/internal/session"
)

const issuer = "netsync"

// Claims represents JWT claims
type Claims struct {
	PlayerID uint64 `json:"player_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTAuthenticator выдаёт и проверяет HS256 токены
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTAuthenticator создаёт аутентификатор. Пустой секрет заменяется случайным
// (токены тогда живут только до перезапуска процесса).
func NewJWTAuthenticator(secret []byte, ttl time.Duration) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for the identity
func (a *JWTAuthenticator) Issue(id session.Identity) (string, error) {
	now := a.now()
	claims := &Claims{
		PlayerID: id.PlayerID,
		Username: id.Username,
		IsAdmin:  id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   id.Username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// IssueForUser token for a stored user
func (a *JWTAuthenticator) IssueForUser(u *User) (string, error) {
	return a.Issue(session.Identity{PlayerID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin})
}

// Validate checks token validity and returns associated identity
func (a *JWTAuthenticator) Validate(tokenString string) (session.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return session.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return session.Identity{PlayerID: claims.PlayerID, Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (session.Identity, error) {
	return a.Validate(token)
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
