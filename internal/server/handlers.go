package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	health := s.client.HealthCheck(c.Request.Context())

	// The gateway itself is healthy even when the model is not: the
	// fallback engine keeps assessments flowing.
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"model_available": health.Available,
		"model_loaded":    health.ModelLoaded,
		"degraded_mode":   !health.Available || !health.ModelLoaded,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) modelHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.client.HealthCheck(c.Request.Context()))
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Analysis
// -----------------------------------------------------------------------------

type analyzeAddressRequest struct {
	Address         string         `json:"address" binding:"required"`
	TransactionData map[string]any `json:"transaction_data"`
}

func (s *Server) analyzeAddress(c *gin.Context) {
	var req analyzeAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include an address",
		})
		return
	}
	if !validation.IsValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Address must be a 0x-prefixed 40-character hex string",
		})
		return
	}

	subject := validation.NormalizeAddress(req.Address)
	a := s.client.AssessAddress(c.Request.Context(), subject, req.TransactionData)
	s.recordAssessment(a)

	c.JSON(http.StatusOK, a)
}

type analyzeTransactionRequest struct {
	TxHash string         `json:"tx_hash" binding:"required"`
	TxData map[string]any `json:"tx_data"`
}

func (s *Server) analyzeTransaction(c *gin.Context) {
	var req analyzeTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include a tx_hash",
		})
		return
	}
	if !validation.IsValidTxHash(req.TxHash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_tx_hash",
			"message": "Transaction hash must be a 0x-prefixed 64-character hex string",
		})
		return
	}

	subject := validation.NormalizeTxHash(req.TxHash)
	a := s.client.AssessTransaction(c.Request.Context(), subject, req.TxData)
	s.recordAssessment(a)

	c.JSON(http.StatusOK, a)
}

type analyzeBatchRequest struct {
	Addresses []string `json:"addresses" binding:"required"`
}

func (s *Server) analyzeBatch(c *gin.Context) {
	var req analyzeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include a non-empty addresses array",
		})
		return
	}
	if len(req.Addresses) > validation.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": "Batch size exceeds the limit",
			"limit":   validation.MaxBatchSize,
		})
		return
	}

	subjects := make([]string, len(req.Addresses))
	for i, addr := range req.Addresses {
		if !validation.IsValidAddress(addr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "Batch contains a malformed address",
				"address": addr,
			})
			return
		}
		subjects[i] = validation.NormalizeAddress(addr)
	}

	assessments := s.client.AssessBatch(c.Request.Context(), subjects)
	for _, a := range assessments {
		s.recordAssessment(a)
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": assessments,
		"count":       len(assessments),
		"degraded":    anyDegraded(assessments),
	})
}

func anyDegraded(assessments []*risk.Assessment) bool {
	for _, a := range assessments {
		if a.Degraded {
			return true
		}
	}
	return false
}
