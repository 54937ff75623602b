package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// ContextKeyRequestID holds the request ID in the gin context.
	ContextKeyRequestID = "request_id"
	// ContextKeyAdminID holds the authenticated admin ID.
	ContextKeyAdminID = "admin_id"

	HeaderRequestID  = "X-Request-ID"
	HeaderServiceKey = "X-Service-Key"

	// ServiceAdminID is recorded when a call was made with the service key.
	ServiceAdminID = "service"
)

// RequestID returns the request ID of c.
func RequestID(c *gin.Context) string { return c.GetString(ContextKeyRequestID) }

// AdminID returns the authenticated admin of c.
func AdminID(c *gin.Context) string { return c.GetString(ContextKeyAdminID) }

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestIDMiddleware propagates X-Request-ID or generates one, and puts a
// request-scoped logger into the request context.
func RequestIDMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		ctx := logger.WithContext(c.Request.Context(), log.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs every request with a level chosen by status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String("request_id", RequestID(c)),
		}
		if admin := AdminID(c); admin != "" {
			fields = append(fields, logger.AdminID(admin))
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// RecoveryMiddleware turns a panic into a 500 envelope.
func RecoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					logger.F("error", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
					logger.String("request_id", RequestID(c)),
				)
				AbortWithError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		c.Next()
	}
}

// TimeoutMiddleware bounds the request context.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CORS builds the CORS middleware. "*" allows every origin without credentials.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", HeaderServiceKey, HeaderRequestID},
		ExposeHeaders: []string{HeaderRequestID},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cors.New(cfg)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	errMissingCredentials = errors.New("missing credentials")
	errNotAdmin           = errors.New("token does not carry the admin role")
)

// RoleAdmin is the role claim required on admin tokens.
const RoleAdmin = "admin"

// AdminClaims are the claims of an admin bearer token. Subject is the admin ID.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator checks admin JWTs and the service key.
type Authenticator struct {
	jwtSecret      []byte
	serviceKeyHash []byte
	now            func() time.Time
}

// NewAuthenticator creates an Authenticator. serviceKeyHash is a bcrypt hash;
// an empty hash disables service-key access.
func NewAuthenticator(jwtSecret, serviceKeyHash string) *Authenticator {
	return &Authenticator{
		jwtSecret:      []byte(jwtSecret),
		serviceKeyHash: []byte(serviceKeyHash),
		now:            time.Now,
	}
}

// IssueAdminToken signs an HS256 admin token for adminID.
func (a *Authenticator) IssueAdminToken(adminID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// ParseAdminToken validates a token and returns the admin ID.
func (a *Authenticator) ParseAdminToken(tokenString string) (string, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return a.jwtSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	if claims.Role != RoleAdmin {
		return claims.Subject, errNotAdmin
	}
	return claims.Subject, nil
}

// CheckServiceKey compares key with the configured bcrypt hash.
func (a *Authenticator) CheckServiceKey(key string) bool {
	if len(a.serviceKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.serviceKeyHash, []byte(key)) == nil
}

// RequireAdmin accepts only an admin bearer token.
func (a *Authenticator) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.authenticateToken(c)
	}
}

// RequireServiceOrAdmin accepts the service key or an admin bearer token.
func (a *Authenticator) RequireServiceOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderServiceKey); key != "" {
			if !a.CheckServiceKey(key) {
				AbortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid service key")
				return
			}
			c.Set(ContextKeyAdminID, ServiceAdminID)
			c.Next()
			return
		}
		a.authenticateToken(c)
	}
}

func (a *Authenticator) authenticateToken(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		AbortWithError(c, http.StatusUnauthorized, "unauthorized", errMissingCredentials.Error())
		return
	}
	adminID, err := a.ParseAdminToken(tokenString)
	switch {
	case errors.Is(err, errNotAdmin):
		AbortWithError(c, http.StatusForbidden, "forbidden", err.Error())
		return
	case err != nil:
		AbortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}
	c.Set(ContextKeyAdminID, adminID)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
