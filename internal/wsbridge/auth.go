package wsbridge

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("wsbridge: missing authentication token")
	ErrInvalidToken = errors.New("wsbridge: invalid authentication token")
	ErrExpiredToken = errors.New("wsbridge: token has expired")
)

// Authenticator resolves a user id from an inbound upgrade request, or
// fails the upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// JWTAuth authenticates connections via a bearer token, checked in the
// Authorization header, the "token" query parameter, or an
// "auth-<token>" Sec-WebSocket-Protocol entry — browsers' websocket
// clients cannot set arbitrary headers, so all three are accepted.
type JWTAuth struct {
	secretKey string
}

// NewJWTAuth builds a JWTAuth keyed by secretKey (HS256).
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{secretKey: secretKey}
}

func (a *JWTAuth) Authenticate(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return a.validateToken(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return a.validateToken(token)
	}
	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		for _, p := range strings.Split(protocols, ",") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, "auth-") {
				return a.validateToken(strings.TrimPrefix(p, "auth-"))
			}
		}
	}
	return "", ErrMissingToken
}

// Claims is the JWT payload a token must carry.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (a *JWTAuth) validateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.secretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// GenerateToken issues a signed token for userID, for use by whatever
// layer authenticates the human (see SPEC_FULL.md's UI bridge section)
// before handing their browser a websocket URL.
func (a *JWTAuth) GenerateToken(userID string, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secretKey))
}

// NoAuth accepts every connection as "anonymous" (or whatever user_id
// query parameter is supplied). Intended for local/offline use, matching
// the core's local-first framing — there is no multi-user deployment in
// scope without an explicit JWT secret configured.
type NoAuth struct{}

func NewNoAuth() *NoAuth { return &NoAuth{} }

func (NoAuth) Authenticate(r *http.Request) (string, error) {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		return userID, nil
	}
	return "anonymous", nil
}
