package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientConfig contains the values a client needs before it can sign in.
type ClientConfig struct {
	GoogleClientID string
	BaseURL        string
}

// HandleClientConfig serves the sign-in bootstrap configuration. When no base
// URL is configured the handler infers one from the request so clients behind
// a proxy still receive a reachable address.
func HandleClientConfig(configuration ClientConfig) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		baseURL := configuration.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			scheme := forwardedProto(contextGin.Request)
			host := contextGin.Request.Host
			if host == "" {
				host = "localhost"
			}
			baseURL = fmt.Sprintf("%s://%s", scheme, host)
		}
		contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
		contextGin.Header("Pragma", "no-cache")
		contextGin.JSON(http.StatusOK, gin.H{
			"googleClientId": configuration.GoogleClientID,
			"baseUrl":        baseURL,
		})
	}
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
