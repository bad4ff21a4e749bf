package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 30 * 24 * time.Hour

	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies a user by email.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Issuer signs and verifies HS256 tokens. Access and refresh tokens use separate secrets,
// so one can never stand in for the other.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewIssuer(accessSecret, refreshSecret string) *Issuer {
	return &Issuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

func (i *Issuer) SignAccess(email string) (string, error) {
	return i.sign(email, i.accessSecret, AccessTokenTTL)
}

func (i *Issuer) SignRefresh(email string) (string, error) {
	return i.sign(email, i.refreshSecret, RefreshTokenTTL)
}

func (i *Issuer) CreateTokens(email string) (*TokenPair, error) {
	access, err := i.SignAccess(email)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := i.SignRefresh(email)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess returns the email of a valid, unexpired access token.
func (i *Issuer) VerifyAccess(token string) (string, error) {
	return i.verify(token, i.accessSecret)
}

func (i *Issuer) VerifyRefresh(token string) (string, error) {
	return i.verify(token, i.refreshSecret)
}

func (i *Issuer) sign(email string, secret []byte, ttl time.Duration) (string, error) {
	if email == "" {
		return "", fmt.Errorf("cannot sign token without email")
	}
	now := i.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (i *Issuer) verify(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Email == "" {
		return "", ErrInvalidToken
	}
	return claims.Email, nil
}
