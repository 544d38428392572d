package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	keySession     = "sid"
	keyParticipant = "pid"
)

var (
	ErrNoToken    = errors.New("authorization header required")
	ErrBadToken   = errors.New("invalid token")
	ErrNotAllowed = errors.New("token is not valid for the session")
)

// Claims of a participant token. The token is issued for one session.
type Claims struct {
	Session     string `json:"sid"`
	Participant string `json:"pid"`
	jwt.RegisteredClaims
}

// NewToken signs a session token of the participant with HS256.
func NewToken(secret, session, participant string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Session:     session,
		Participant: participant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participant,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken checks the signature and the expiration of the token.
func ParseToken(secret, token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.Participant == "" || claims.Session == "" {
		return nil, ErrBadToken
	}
	return claims, nil
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		// browsers can't set headers on websocket requests
		return c.Query("token")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// authorize lets in the holders of a token for the :id session.
// Without a secret the participant is taken from the pid query param.
func authorize(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("id")
		if secret == "" {
			pid := c.Query(keyParticipant)
			if pid == "" {
				abort(c, http.StatusUnauthorized, ErrNoToken)
				return
			}
			c.Set(keySession, session)
			c.Set(keyParticipant, pid)
			c.Next()
			return
		}

		token := bearer(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, ErrNoToken)
			return
		}
		claims, err := ParseToken(secret, token)
		if err != nil {
			abort(c, http.StatusUnauthorized, err)
			return
		}
		if claims.Session != session {
			abort(c, http.StatusForbidden, ErrNotAllowed)
			return
		}
		if pid := c.Query(keyParticipant); pid != "" && pid != claims.Participant {
			abort(c, http.StatusForbidden, ErrNotAllowed)
			return
		}
		c.Set(keySession, claims.Session)
		c.Set(keyParticipant, claims.Participant)
		c.Next()
	}
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
