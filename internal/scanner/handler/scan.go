// Package handler exposes the scan pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/hashverdict/internal/digest"
	"github.com/jmerrifield20/hashverdict/internal/scanner/service"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"go.uber.org/zap"
)

// Response headers set on every completed lookup.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderDigest    = "X-Scan-Digest"
	HeaderSeverity  = "X-Scan-Severity"
)

// Config carries the settings ScanHandler needs. It is built once at startup.
type Config struct {
	// AuthHeader names the header holding the caller's token.
	AuthHeader string

	// AuthToken is the expected token value. Required.
	AuthToken string

	// CollapseUpstreamErrors renders upstream failures as a 200 null body,
	// indistinguishable from an unknown artifact. When false they are
	// reported as 502/503/504.
	CollapseUpstreamErrors bool
}

// ScanHandler serves /scan.
type ScanHandler struct {
	svc    *service.ScanService
	cfg    Config
	logger *zap.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(svc *service.ScanService, cfg Config, logger *zap.Logger) *ScanHandler {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = DefaultAuthHeader
	}
	return &ScanHandler{svc: svc, cfg: cfg, logger: logger}
}

// Register mounts the scan routes on the given router group.
func (h *ScanHandler) Register(rg *gin.RouterGroup) {
	auth := RequireToken(h.cfg.AuthHeader, h.cfg.AuthToken)
	rg.GET("/scan", auth, h.Scan)
	rg.POST("/scan", auth, h.Scan)
}

// Scan handles GET|POST /scan: it classifies the submission, resolves its
// digest and returns the provider's verdict statistics.
//
//	200 {"malicious":0,...}   verdict
//	200 null                  digest unknown to the provider
//	400 / 415                 malformed submission
func (h *ScanHandler) Scan(c *gin.Context) {
	reqID := uuid.NewString()
	c.Header(HeaderRequestID, reqID)
	log := h.logger.With(zap.String("request_id", reqID))

	sub, err := service.Classify(c.Request)
	switch {
	case errors.Is(err, service.ErrMissingHash):
		c.JSON(http.StatusBadRequest, gin.H{"message": "No hash provided"})
		return
	case err != nil:
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"message": "Unsupported Media Type"})
		return
	}
	RecordSubmission(sub.Kind.String())

	out, err := h.svc.Scan(c.Request.Context(), sub)
	if err != nil {
		h.respondError(c, log, err)
		return
	}

	res := out.Result
	severity := threat.Severity(res)
	c.Header(HeaderDigest, out.Digest)
	c.Header(HeaderSeverity, severity)
	log.Info("scan complete",
		zap.String("source", out.Source.String()),
		zap.String("digest", out.Digest),
		zap.String("outcome", res.Outcome.String()),
		zap.String("severity", severity),
	)

	switch res.Outcome {
	case threat.OutcomeVerdict:
		c.JSON(http.StatusOK, res.Stats)
	case threat.OutcomeUnknown:
		c.JSON(http.StatusOK, nil)
	default:
		if h.cfg.CollapseUpstreamErrors {
			c.JSON(http.StatusOK, nil)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"message": "Upstream lookup failed",
			"status":  res.Status,
		})
	}
}

func (h *ScanHandler) respondError(c *gin.Context, log *zap.Logger, err error) {
	if errors.Is(err, digest.ErrReadFailure) {
		log.Error("read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to read uploaded file"})
		return
	}
	if errors.Is(err, service.ErrInvalidSubmission) {
		log.Error("scan submission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
		return
	}

	log.Warn("provider lookup", zap.Error(err))
	if h.cfg.CollapseUpstreamErrors {
		c.JSON(http.StatusOK, nil)
		return
	}

	switch {
	case errors.Is(err, threat.ErrMalformedPayload):
		c.JSON(http.StatusBadGateway, gin.H{"message": "Malformed upstream response"})
	case errors.Is(err, threat.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Upstream rate limit exceeded"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"message": "Upstream lookup timed out"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"message": "Upstream lookup failed"})
	}
}
