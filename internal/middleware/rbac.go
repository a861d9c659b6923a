package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/response"
)

// RequireCandidate lets only candidate tokens through.
func RequireCandidate() gin.HandlerFunc {
	return requireRole(response.ErrCandidateOnly, func(r model.Role) bool {
		return r == model.RoleCandidate
	})
}

// RequireStaff lets admin, recruiter and psychologist tokens through.
func RequireStaff() gin.HandlerFunc {
	return requireRole(response.ErrStaffOnly, model.Role.IsStaff)
}

// RequireAnyRole checks that the token carries one of the given roles.
func RequireAnyRole(roles ...model.Role) gin.HandlerFunc {
	return requireRole(response.ErrForbidden, func(r model.Role) bool {
		for _, want := range roles {
			if r == want {
				return true
			}
		}
		return false
	})
}

func requireRole(code response.ErrCode, allowed func(model.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !allowed(claims.Role) {
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}
		c.Next()
	}
}
