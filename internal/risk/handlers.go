package risk

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// maxListLimit caps history queries.
const maxListLimit = 200

// Handler provides HTTP endpoints for the assessment audit trail.
type Handler struct {
	store Store
}

// NewHandler creates an assessment history handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up assessment history endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assessments/recent", h.ListRecent)
	r.GET("/assessments/:subject", h.ListBySubject)
}

// ListRecent returns the most recent assessments across all subjects.
func (h *Handler) ListRecent(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)

	assessments, err := h.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to load recent assessments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// ListBySubject returns the assessment history for one subject.
func (h *Handler) ListBySubject(c *gin.Context) {
	subject := strings.ToLower(c.Param("subject"))
	limit := parseLimit(c.Query("limit"), 20)

	assessments, err := h.store.ListBySubject(c.Request.Context(), subject, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to load assessment history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":     subject,
		"assessments": assessments,
		"count":       len(assessments),
	})
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
