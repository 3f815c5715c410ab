package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/engine"
	"github.com/rawblock/mule-forensics/internal/graph"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// SSE event names of a streamed analysis.
const (
	SSEProgress = "progress"
	SSEReport   = "report"
	SSEError    = "error"
)

// maxRowErrors bounds the row error list returned to the client.
const maxRowErrors = 100

// AnalyzeRequest is the JSON body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Transactions []models.Transaction `json:"transactions"`
}

// ProgressEvent is the payload of an SSE progress event.
type ProgressEvent struct {
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

type sseEvent struct {
	name string
	data any
}

// POST /api/v1/analyze
func (s *Server) handleAnalyze(c *gin.Context) {
	txs, ok := s.readTransactions(c)
	if !ok {
		return
	}
	if wantsStream(c) {
		s.streamAnalysis(c, txs)
		return
	}

	report, err := s.deps.Engine.Analyze(c.Request.Context(), txs)
	if err != nil {
		status, body := analysisError(err)
		c.JSON(status, body)
		return
	}
	s.Publish(report, txs)
	c.JSON(http.StatusOK, report)
}

// streamAnalysis reports stage progress as server-sent events and ends with
// one report or error event.
func (s *Server) streamAnalysis(c *gin.Context, txs []models.Transaction) {
	ctx := c.Request.Context()
	// Progress is lossy; the final event is always delivered unless the
	// client went away.
	events := make(chan sseEvent, 16)
	eng := s.deps.Engine.With(engine.WithProgress(func(stage string, progress float64) {
		select {
		case events <- sseEvent{SSEProgress, ProgressEvent{Stage: stage, Progress: progress}}:
		default:
		}
	}))

	go func() {
		var final sseEvent
		report, err := eng.Analyze(ctx, txs)
		if err != nil {
			_, body := analysisError(err)
			final = sseEvent{SSEError, body}
		} else {
			s.Publish(report, txs)
			final = sseEvent{SSEReport, report}
		}
		select {
		case events <- final:
		case <-ctx.Done():
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for {
		select {
		case ev := <-events:
			c.SSEvent(ev.name, ev.data)
			c.Writer.Flush()
			if ev.name != SSEProgress {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readTransactions decodes a multipart CSV upload, a raw text/csv body or a
// JSON body. It writes the error response itself and reports false on
// failure.
func (s *Server) readTransactions(c *gin.Context) ([]models.Transaction, bool) {
	if limit := s.deps.Config.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	mediaType, _, _ := mime.ParseMediaType(c.ContentType())
	switch mediaType {
	case "multipart/form-data":
		fh, err := c.FormFile("file")
		if err != nil {
			s.badUpload(c, err, "Expected a multipart field named \"file\"")
			return nil, false
		}
		f, err := fh.Open()
		if err != nil {
			s.badUpload(c, err, "Failed to open upload")
			return nil, false
		}
		defer f.Close()
		return s.decodeCSV(c, f)
	case "text/csv":
		return s.decodeCSV(c, c.Request.Body)
	default:
		var req AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badUpload(c, err, "Invalid request body. Expected: {\"transactions\": [...]}")
			return nil, false
		}
		return req.Transactions, true
	}
}

func (s *Server) decodeCSV(c *gin.Context, r io.Reader) ([]models.Transaction, bool) {
	txs, rowErrs, err := DecodeCSV(r)
	if err != nil {
		s.badUpload(c, err, "Unreadable CSV")
		return nil, false
	}
	if len(rowErrs) > 0 {
		shown := rowErrs
		if len(shown) > maxRowErrors {
			shown = shown[:maxRowErrors]
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "CSV rows failed to parse",
			"errorCount": len(rowErrs),
			"rowErrors":  shown,
		})
		return nil, false
	}
	return txs, true
}

func (s *Server) badUpload(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "Upload too large",
			"limit": tooLarge.Limit,
		})
		return
	}
	if errors.Is(err, ErrMissingColumns) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    err.Error(),
			"required": requiredColumns,
		})
		return
	}
	s.logger.Debug("Rejected upload", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "details": err.Error()})
}

// analysisError maps an engine error onto an HTTP status and body.
func analysisError(err error) (int, gin.H) {
	var invalid *graph.InvalidRecordError
	var cfgErr *config.ConfigurationError
	var detErr *engine.DetectorError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, gin.H{
			"error":         "Invalid transaction record",
			"index":         invalid.Index,
			"transactionId": invalid.TransactionID,
			"field":         invalid.Field,
			"reason":        invalid.Reason,
		}
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, gin.H{
			"error":  "Invalid detection configuration",
			"field":  cfgErr.Field,
			"reason": cfgErr.Reason,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, gin.H{"error": "Analysis cancelled"}
	case errors.As(err, &detErr):
		return http.StatusInternalServerError, gin.H{
			"error":    "Detector failed",
			"detector": detErr.Detector,
			"batchId":  detErr.BatchID,
			"details":  err.Error(),
		}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Analysis failed", "details": err.Error()}
	}
}

func wantsStream(c *gin.Context) bool {
	if v, err := strconv.ParseBool(c.Query("stream")); err == nil && v {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// GET /api/v1/reports/latest
func (s *Server) handleLatestReport(c *gin.Context) {
	report := s.deps.Store.Latest()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis has completed yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/v1/accounts/:id
func (s *Server) handleGetAccount(c *gin.Context) {
	id := c.Param("id")
	view, ok := s.deps.Store.Account(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found in the latest report", "accountId": id})
		return
	}
	c.JSON(http.StatusOK, view)
}

// GET /api/v1/alerts?limit=50&minSeverity=high
func (s *Server) handleGetAlerts(c *gin.Context) {
	if s.deps.Alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alerting is not enabled"})
		return
	}
	if sev := c.Query("minSeverity"); sev != "" {
		list := s.deps.Alerts.BySeverity(sev)
		c.JSON(http.StatusOK, gin.H{"count": len(list), "alerts": list})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	list := s.deps.Alerts.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"count": len(list), "alerts": list})
}

// GET /api/v1/health
func (s *Server) handleHealth(c *gin.Context) {
	dbStatus := "disabled"
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			dbStatus = "disconnected"
		} else {
			dbStatus = "connected"
		}
	}

	body := gin.H{
		"status":        "ok",
		"database":      dbStatus,
		"streamClients": s.deps.Hub.ClientCount(),
	}
	if latest := s.deps.Store.Latest(); latest != nil {
		body["latestBatchId"] = latest.BatchID
		body["latestGeneratedAt"] = latest.GeneratedAt
	}
	c.JSON(http.StatusOK, body)
}
