// Package auth issues and verifies the bearer tokens shared by the REST and realtime surfaces.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"approval-notify/internal/common/config"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorContextKey = "auth.actor"

// Claims carries the recipient identity of the token holder.
type Claims struct {
	jwt.RegisteredClaims
	Kind models.RecipientKind `json:"kind"`
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(cfg config.AuthConfig) *TokenService {
	ttl := cfg.TokenTTLDuration()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for actor.
func (s *TokenService) Issue(actor models.Actor) (string, error) {
	if actor.ID == "" || !actor.Kind.Valid() {
		return "", apperrors.NewValidationError("token subject requires an id and a recipient kind")
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Kind: actor.Kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the actor it identifies.
func (s *TokenService) Parse(token string) (models.Actor, error) {
	if token == "" {
		return models.Actor{}, apperrors.NewUnauthorizedError("missing bearer token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return models.Actor{}, apperrors.NewUnauthorizedError("invalid bearer token")
	}
	if claims.Subject == "" || !claims.Kind.Valid() {
		return models.Actor{}, apperrors.NewUnauthorizedError("token does not identify a recipient")
	}
	return models.Actor{ID: claims.Subject, Kind: claims.Kind}, nil
}

// TokenFromRequest reads the Authorization bearer header, falling back to the token query
// parameter used by browser event streams.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, _ := strings.CutPrefix(header, "Bearer ")
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// Authenticate rejects requests without a valid token and stores the actor on the context.
func (s *TokenService) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.Parse(TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// AdminVerifier confirms that an administrator actor is approved and enabled.
type AdminVerifier interface {
	ActiveAdmin(ctx context.Context, actor models.Actor) (*models.Administrator, error)
}

// RequireActiveAdmin admits administrators whose account is approved and not disabled. The
// account is loaded on every request so suspensions apply to tokens already issued.
func RequireActiveAdmin(verifier AdminVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": apperrors.NewUnauthorizedError("missing bearer token"),
			})
			return
		}
		if _, err := verifier.ActiveAdmin(c.Request.Context(), actor); err != nil {
			stdErr, ok := apperrors.As(err)
			if !ok {
				stdErr = apperrors.NewInternalError(err)
			}
			status := apperrors.HTTPStatus(stdErr.Code)
			if status >= http.StatusInternalServerError {
				c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": stdErr.Code, "message": stdErr.Message}})
				return
			}
			c.AbortWithStatusJSON(status, gin.H{"error": stdErr})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
