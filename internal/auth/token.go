package auth

import (
	"errors"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"warungpos/backend/internal/domain"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role domain.Role `json:"role"`
	UID  string      `json:"uid"`
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for sess and returns it with its expiry.
func (m *TokenManager) Issue(sess domain.Session) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   sess.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "warungpos",
		},
		Role: sess.Role,
		UID:  strconv.FormatInt(sess.UserID, 10),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (m *TokenManager) Parse(tokenStr string) (domain.Session, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Session{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Session{}, ErrInvalidToken
	}
	uid, err := strconv.ParseInt(claims.UID, 10, 64)
	if err != nil {
		return domain.Session{}, ErrInvalidToken
	}
	return domain.Session{UserID: uid, Username: sub, Role: claims.Role}, nil
}
