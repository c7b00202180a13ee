package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the identity token.
const (
	RolePatient = "patient"
	RoleStaff   = "staff"
)

// Gin context keys for the authenticated caller.
const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

// Development headers accepted when AuthOptions.HeaderFallback is set.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-Role"
)

// Claims is the subset of the identity provider's token the service reads.
// The subject is the patient (or staff member) id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret verifies HS256 bearer tokens. Empty disables token auth.
	Secret string
	// HeaderFallback trusts X-User-ID / X-Role when no bearer token is sent.
	// Local development and tests only.
	HeaderFallback bool
}

var errNoIdentity = errors.New("no identity")

// Authenticate resolves the caller from a bearer JWT (or the development
// headers) and stores user id and role in the Gin context. Requests without a
// valid identity are rejected with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, role, err := identify(c, opts)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="clinic"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

func identify(c *gin.Context, opts AuthOptions) (uid, role string, err error) {
	if raw, ok := bearer(c.GetHeader("Authorization")); ok {
		if opts.Secret == "" {
			return "", "", errNoIdentity
		}
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return []byte(opts.Secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return "", "", err
		}
		sub, _ := claims.GetSubject()
		return checkIdentity(sub, claims.Role)
	}
	if opts.HeaderFallback {
		return checkIdentity(c.GetHeader(HeaderUserID), c.GetHeader(HeaderRole))
	}
	return "", "", errNoIdentity
}

func checkIdentity(uid, role string) (string, string, error) {
	uid = strings.TrimSpace(uid)
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = RolePatient
	}
	if uid == "" || (role != RolePatient && role != RoleStaff) {
		return "", "", errNoIdentity
	}
	return uid, role, nil
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

// RequireRole rejects callers whose role is not one of roles with 403.
// Place it after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := Role(c)
		for _, r := range roles {
			if got == r {
				c.Next()
				return
			}
		}
		abortJSON(c, http.StatusForbidden, "forbidden", "insufficient role")
	}
}

// UserID returns the authenticated caller id, or "".
func UserID(c *gin.Context) string {
	s, _ := c.Get(ctxKeyUserID)
	return asString(s)
}

// Role returns the authenticated caller role, or "".
func Role(c *gin.Context) string {
	s, _ := c.Get(ctxKeyRole)
	return asString(s)
}

// IssueToken signs an HS256 token for uid and role. The identity provider
// owns token issuance in production; this serves the CLI and tests.
func IssueToken(secret, uid, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = uid
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: role, RegisteredClaims: claims}).
		SignedString([]byte(secret))
}

// abortJSON writes the standard error envelope from inside middleware.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
