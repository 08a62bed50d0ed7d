package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fivelines/models"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultLeeway = 30 * time.Second
	localDevUser  = "local-dev"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims is the verified session token data handlers rely on.
type Claims struct {
	Subject         string
	Issuer          string
	AuthorizedParty string
	ExpiresAt       time.Time
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// UserID returns the authenticated subject for the request, or "".
func UserID(c *gin.Context) string {
	if claims, ok := ClaimsFromContext(c.Request.Context()); ok {
		return claims.Subject
	}
	return ""
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Verifier validates Clerk session JWTs against the instance JWKS.
type Verifier struct {
	issuer            string
	authorizedParties map[string]struct{}
	keyfunc           jwt.Keyfunc
	parser            *jwt.Parser
}

// NewVerifier builds a verifier. jwksURL defaults to the issuer's
// /.well-known/jwks.json.
func NewVerifier(issuer, jwksURL string, authorizedParties []string) (*Verifier, error) {
	issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	if issuer == "" {
		return nil, errors.New("issuer must be set")
	}
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}
	return newVerifier(issuer, keyProvider.Keyfunc, authorizedParties), nil
}

func newVerifier(issuer string, kf jwt.Keyfunc, authorizedParties []string) *Verifier {
	parties := make(map[string]struct{}, len(authorizedParties))
	for _, p := range authorizedParties {
		parties[strings.TrimRight(p, "/")] = struct{}{}
	}
	return &Verifier{
		issuer:            issuer,
		authorizedParties: parties,
		keyfunc:           kf,
		parser: jwt.NewParser(
			jwt.WithIssuer(issuer),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		),
	}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	mapClaims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, mapClaims, v.keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims := &Claims{
		Subject:         readString(mapClaims, "sub"),
		Issuer:          readString(mapClaims, "iss"),
		AuthorizedParty: readString(mapClaims, "azp"),
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	if len(v.authorizedParties) > 0 && claims.AuthorizedParty != "" {
		if _, ok := v.authorizedParties[strings.TrimRight(claims.AuthorizedParty, "/")]; !ok {
			return nil, fmt.Errorf("unauthorized party %q", claims.AuthorizedParty)
		}
	}
	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

type AuthConfig struct {
	// Disabled injects a fixed local-dev user instead of verifying tokens.
	Disabled bool
	// Optional lets requests without an Authorization header through
	// unauthenticated. A header that is present must still be valid.
	Optional bool
}

// Auth verifies the bearer token and stores its claims in the request context.
func Auth(verifier TokenVerifier, cfg AuthConfig, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if cfg.Disabled {
			ctx := WithClaims(c.Request.Context(), &Claims{Subject: localDevUser, Issuer: "local"})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && cfg.Optional {
			c.Next()
			return
		}
		if verifier == nil {
			log.Warn("auth failure: verifier not configured", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c)
			return
		}
		if authHeader == "" {
			log.Info("auth failure: missing Authorization header", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c)
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			log.Info("auth failure: malformed Authorization header", zap.String("path", c.Request.URL.Path))
			respondUnauthorized(c)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Info("auth failure: token invalid", zap.String("path", c.Request.URL.Path), zap.Error(err))
			respondUnauthorized(c)
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.APIResponse{
		Success: false,
		Error:   "Unauthorized",
	})
}
