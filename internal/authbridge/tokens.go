package authbridge

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "goscan"

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of goscan access and refresh tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Typ    string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful sign-in yields.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	TokenType    string `json:"token_type"`
}

// TokenIssuer signs and validates HS256 tokens.
type TokenIssuer struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates an issuer. An empty secret gets a random per-process
// key, so tokens do not survive a restart.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		rand.Read(key)
		slog.Warn("auth.jwt_secret not set; using an ephemeral signing key")
	}
	return &TokenIssuer{signingKey: key, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue returns a fresh access/refresh pair for userID.
func (ti *TokenIssuer) Issue(userID string) (*TokenPair, error) {
	access, err := ti.sign(userID, TypeAccess, ti.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := ti.sign(userID, TypeRefresh, ti.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(ti.accessTTL / time.Second),
		TokenType:    "bearer",
	}, nil
}

// Refresh exchanges a refresh token for a new pair.
func (ti *TokenIssuer) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := ti.Validate(refreshToken, TypeRefresh)
	if err != nil {
		return nil, err
	}
	return ti.Issue(claims.UserID)
}

// Validate parses tokenString and checks its signature, expiry and type.
func (ti *TokenIssuer) Validate(tokenString, typ string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return ti.signingKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Typ != typ {
		return nil, fmt.Errorf("%w: want %s token", ErrInvalidToken, typ)
	}
	return claims, nil
}

func (ti *TokenIssuer) sign(userID, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Typ:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(ti.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}
