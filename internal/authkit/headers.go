package authkit

import "github.com/gin-gonic/gin"

// SecurityHeaders sets protective response headers on every request.
func SecurityHeaders() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.Header("X-Content-Type-Options", "nosniff")
		contextGin.Header("X-Frame-Options", "DENY")
		contextGin.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		contextGin.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		contextGin.Next()
	}
}
