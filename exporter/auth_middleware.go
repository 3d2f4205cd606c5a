package exporter

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remiges-tech/promexporter/metrics"
)

// BasicAuthMiddleware returns a middleware that checks the credentials
// configured in Options.BasicAuth. Requests without Basic credentials are
// answered with 401, requests with wrong credentials with 403. Both responses
// carry a WWW-Authenticate header and the chain is aborted.
func (e *Exporter) BasicAuthMiddleware() gin.HandlerFunc {
	auth := e.opts.BasicAuth
	challenge := fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, auth.Realm)

	return func(c *gin.Context) {
		l := e.logger.WithOp("authenticate").WithRemoteIP(c.ClientIP())

		headers := c.Request.Header.Values("Authorization")
		if len(headers) == 0 {
			l.Info().LogActivity("No authorization header found, asking for authentication for telemetry endpoint", nil)
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		username, password, err := ExtractBasicCredentials(headers)
		if err != nil {
			l.Warn().LogActivity("Failed authenticating for telemetry endpoint", map[string]any{"error": err.Error()})
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		if !equal(username, auth.Username) || !equal(password, auth.Password) {
			err := fmt.Errorf("%w: wrong username or password", metrics.ErrAccessDenied)
			l.Warn().LogActivity("Failed authenticating for telemetry endpoint", map[string]any{"error": err.Error()})
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}

// ExtractBasicCredentials returns the credentials of the first Basic
// authorization header in headers.
func ExtractBasicCredentials(headers []string) (username, password string, err error) {
	const prefix = "Basic "

	for _, h := range headers {
		if !strings.HasPrefix(h, prefix) {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h, prefix))
		if err != nil {
			// Undecodable credentials cannot match and count as wrong ones.
			return "", "", nil
		}
		username, password, _ = strings.Cut(string(decoded), ":")
		return username, password, nil
	}
	return "", "", fmt.Errorf("no Basic authorization header found")
}

func equal(given, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}
