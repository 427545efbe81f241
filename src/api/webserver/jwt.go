package webserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "uid"
	ctxRole   = "role"

	RoleModerator = "moderator"
)

// JWTMiddleware accepts HS256 bearer tokens issued by the identity service.
// The user id comes from the "uid" claim, falling back to "sub".
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "missing bearer token"})
			return
		}
		tok, err := parser.Parse(h[7:], func(t *jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "invalid token"})
			return
		}
		claims, _ := tok.Claims.(jwt.MapClaims)
		uid, _ := claims["uid"].(string)
		if uid == "" {
			uid, _ = claims["sub"].(string)
		}
		if strings.TrimSpace(uid) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "token has no user id"})
			return
		}
		role, _ := claims["role"].(string)
		c.Set(ctxUserID, uid)
		c.Set(ctxRole, role)
		c.Next()
	}
}

// RequireRole must run after JWTMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"err": role + " access required"})
			return
		}
		c.Next()
	}
}
