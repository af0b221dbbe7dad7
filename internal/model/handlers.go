package model

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// Handler exposes the scoring service over the model API.
type Handler struct {
	svc *Service
}

// NewHandler creates the model API handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the model API endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/model")
	{
		api.GET("/health", h.Health)
		api.POST("/load", h.Load)
		api.POST("/predict_address", h.PredictAddress)
		api.POST("/predict_transaction", h.PredictTransaction)
		api.POST("/batch_predict", h.BatchPredict)
	}
}

// Health reports service and model state. Always 200: an unloaded model
// is a degraded-but-alive condition, reported in the payload. Unlike the
// predict endpoints, health is a bare object with no envelope.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	if !h.svc.Loaded() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"model_loaded": h.svc.Loaded(),
		"device":       h.svc.Device(),
		"timestamp":    risk.Now().Format(time.RFC3339),
	})
}

type loadRequest struct {
	ModelPath string `json:"model_path"`
}

// Load loads model weights and marks the service ready.
func (h *Handler) Load(c *gin.Context) {
	var req loadRequest
	// Empty body means built-in weights.
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.Load(c.Request.Context(), req.ModelPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"model_loaded": true,
			"device":       h.svc.Device(),
		},
	})
}

type predictAddressRequest struct {
	Address         string         `json:"address"`
	TransactionData map[string]any `json:"transaction_data"`
}

// PredictAddress scores a single address.
func (h *Handler) PredictAddress(c *gin.Context) {
	var req predictAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		h.reject(c, "predict_address", http.StatusBadRequest, "Missing address parameter")
		return
	}

	p, err := h.svc.PredictAddress(c.Request.Context(), req.Address, req.TransactionData)
	if err != nil {
		h.predictError(c, "predict_address", err)
		return
	}

	metrics.ModelPredictionsTotal.WithLabelValues("predict_address", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": p})
}

type predictTransactionRequest struct {
	TxHash string         `json:"tx_hash"`
	TxData map[string]any `json:"tx_data"`
}

// PredictTransaction scores a single transaction hash.
func (h *Handler) PredictTransaction(c *gin.Context) {
	var req predictTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TxHash == "" {
		h.reject(c, "predict_transaction", http.StatusBadRequest, "Missing tx_hash parameter")
		return
	}

	p, err := h.svc.PredictTransaction(c.Request.Context(), req.TxHash, req.TxData)
	if err != nil {
		h.predictError(c, "predict_transaction", err)
		return
	}

	metrics.ModelPredictionsTotal.WithLabelValues("predict_transaction", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": p})
}

type batchPredictRequest struct {
	Addresses []string `json:"addresses"`
}

// BatchPredict scores a set of addresses in one call.
func (h *Handler) BatchPredict(c *gin.Context) {
	var req batchPredictRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Addresses) == 0 {
		h.reject(c, "batch_predict", http.StatusBadRequest, "Missing addresses parameter")
		return
	}
	if len(req.Addresses) > validation.MaxBatchSize {
		h.reject(c, "batch_predict", http.StatusBadRequest, "Too many addresses in batch")
		return
	}

	entries, err := h.svc.PredictBatch(c.Request.Context(), req.Addresses)
	if err != nil {
		h.predictError(c, "batch_predict", err)
		return
	}

	metrics.ModelPredictionsTotal.WithLabelValues("batch_predict", "success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   entries,
		"count":  len(entries),
	})
}

func (h *Handler) predictError(c *gin.Context, endpoint string, err error) {
	if errors.Is(err, ErrModelNotLoaded) {
		h.reject(c, endpoint, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	h.reject(c, endpoint, http.StatusBadRequest, err.Error())
}

func (h *Handler) reject(c *gin.Context, endpoint string, status int, msg string) {
	metrics.ModelPredictionsTotal.WithLabelValues(endpoint, "error").Inc()
	c.JSON(status, gin.H{"error": msg})
}
