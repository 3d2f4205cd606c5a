package exporter

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/remiges-tech/logharbour/logharbour"
)

// CtxKeyScrapeID is the gin context key holding the id of the current scrape.
const CtxKeyScrapeID = "_scrape_id"

// RequestInfo contains all the information about a request to be logged
type RequestInfo struct {
	Method       string        `json:"method"`               // HTTP method (e.g., "GET")
	Path         string        `json:"path"`                 // Request path (e.g., "/metrics")
	ClientIP     string        `json:"client_ip"`            // Client's IP address
	StatusCode   int           `json:"status_code"`          // HTTP status code of the response
	StartTime    time.Time     `json:"start_time"`           // Time when request processing started (UTC)
	Duration     time.Duration `json:"duration"`             // Total duration of request processing
	ResponseSize int64         `json:"response_size"`        // Size of the response body in bytes
	UserAgent    string        `json:"user_agent,omitempty"` // User-Agent header, e.g. "Prometheus/2.48.0"
	ScrapeID     string        `json:"scrape_id"`            // X-Trace-ID header or a generated UUID
}

// RequestLogger defines the interface that a logger must implement to be used with LogRequest middleware
type RequestLogger interface {
	Log(info RequestInfo)
}

// LogRequest returns a gin middleware that logs one entry per request after
// it has been handled. Every request gets a scrape id, taken from the
// X-Trace-ID header when present, which handlers can read from the context
// under CtxKeyScrapeID.
func LogRequest(logger RequestLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		scrapeID := c.GetHeader("X-Trace-ID")
		if scrapeID == "" {
			scrapeID = uuid.NewString()
		}
		c.Set(CtxKeyScrapeID, scrapeID)

		c.Next()

		logger.Log(RequestInfo{
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			ClientIP:     c.ClientIP(),
			StatusCode:   c.Writer.Status(),
			StartTime:    startTime.UTC(),
			Duration:     time.Since(startTime),
			ResponseSize: int64(c.Writer.Size()),
			UserAgent:    c.Request.UserAgent(),
			ScrapeID:     scrapeID,
		})
	}
}

// LogHarbourAdapter adapts a LogHarbour logger to implement the RequestLogger interface
type LogHarbourAdapter struct {
	logger *logharbour.Logger
}

func NewLogHarbourAdapter(logger *logharbour.Logger) *LogHarbourAdapter {
	return &LogHarbourAdapter{logger: logger}
}

func (a *LogHarbourAdapter) Log(info RequestInfo) {
	logger := a.logger.WithModule("http").
		WithOp("scrape").
		WithRemoteIP(info.ClientIP).
		WithClass(info.Method).
		WithInstanceId(info.ScrapeID).
		WithStatus(getStatus(info.StatusCode))

	logger.Info().LogActivity("HTTP request completed", map[string]any{
		"method":        info.Method,
		"path":          info.Path,
		"status":        info.StatusCode,
		"start_time":    info.StartTime.Format(time.RFC3339),
		"duration_ms":   info.Duration.Milliseconds(),
		"response_size": info.ResponseSize,
		"user_agent":    info.UserAgent,
		"scrape_id":     info.ScrapeID,
	})
}

// getStatus converts an HTTP status code to a logharbour Status
func getStatus(statusCode int) logharbour.Status {
	if statusCode >= 200 && statusCode < 400 {
		return logharbour.Success
	}
	return logharbour.Failure
}
