package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	operatorContextKey = "operator_id"
	bearerPrefix       = "bearer "
)

var errUnauthenticated = errors.New("unauthenticated")

type operatorClaims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// SignOperatorToken issues an HS256 session token for operatorID.
func SignOperatorToken(cfg Config, operatorID booking.OperatorID, now time.Time, ttl time.Duration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	claims := operatorClaims{
		OperatorID: operatorID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   operatorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSigningKey))
}

func parseOperatorToken(cfg Config, raw string) (booking.OperatorID, error) {
	claims := &operatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return []byte(cfg.JWTSigningKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.JWTIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return booking.OperatorID{}, fmt.Errorf("%w: %w", errUnauthenticated, err)
	}
	subject := claims.OperatorID
	if strings.TrimSpace(subject) == "" {
		subject = claims.Subject
	}
	operatorID, err := booking.NewOperatorID(subject)
	if err != nil {
		return booking.OperatorID{}, fmt.Errorf("%w: %w", errUnauthenticated, err)
	}
	return operatorID, nil
}

// operatorAuth accepts a bearer token or the session cookie.
func operatorAuth(cfg Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := bearerToken(ctx.GetHeader("Authorization"))
		if raw == "" {
			if cookie, err := ctx.Cookie(cfg.JWTCookieName); err == nil {
				raw = cookie
			}
		}
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		operatorID, err := parseOperatorToken(cfg, raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(operatorContextKey, operatorID)
		ctx.Next()
	}
}

func bearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(bearerPrefix):])
}

func getOperatorID(ctx *gin.Context) (booking.OperatorID, bool) {
	value, ok := ctx.Get(operatorContextKey)
	if !ok {
		return booking.OperatorID{}, false
	}
	operatorID, ok := value.(booking.OperatorID)
	return operatorID, ok
}
