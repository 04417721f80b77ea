package utils // package utils provides helpers for admin tokens and password hashing

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role issued by this service.  It gates the reset,
// purge and roster endpoints.
const RoleAdmin = "ADMIN"

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
	Token string    `json:"access_token"`
	Exp   time.Time `json:"expires_at"`
}

// Claims are the values JWTAuth extracts from a valid token.
type Claims struct {
	Subject string
	Role    string
}

// NewAccessToken signs an HS256 JWT for subject (the operator's email) with
// the given role.  The token carries sub, role, exp and iat claims.
func NewAccessToken(secret, subject, role string, ttlMin int) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw against secret and returns its claims.
// Tokens signed with anything other than HMAC are rejected, as are expired
// ones.
func ParseAccessToken(secret, raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, err
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Claims{}, errors.New("invalid claims")
	}
	sub, _ := mc["sub"].(string)
	role, _ := mc["role"].(string)
	return Claims{Subject: sub, Role: role}, nil
}
