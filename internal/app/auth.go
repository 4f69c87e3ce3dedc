package app

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const profileKey = "profile"

// AuthMiddleware accepts HMAC-signed bearer tokens whose subject is a
// profile id and loads that profile into the request context.
func (a *App) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(parts[1], &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenMalformed
			}
			return a.JWTSecret, nil
		}, jwt.WithLeeway(5*time.Second), jwt.WithTimeFunc(a.now))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			return
		}

		profile, err := a.Store.GetProfile(c.Request.Context(), userID)
		if errors.Is(err, ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "profile not found"})
			return
		}
		if err != nil {
			a.Logger.Error("Failed to load profile", zap.String("user_id", userID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
			return
		}

		c.Set(profileKey, profile)
		c.Next()
	}
}

// RequireRole rejects callers whose profile role is not one of roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentProfile(c)
		for _, r := range roles {
			if p != nil && p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

func currentProfile(c *gin.Context) *Profile {
	v, ok := c.Get(profileKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Profile)
	return p
}

// isStaff reports whether the profile may read other students' data.
func isStaff(p *Profile) bool {
	return p.Role == RoleAdmin || p.Role == RoleInstructor
}
