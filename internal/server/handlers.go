package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/paymesh/paymesh/internal/logging"
	"github.com/paymesh/paymesh/internal/payment"
)

const maxPayloadBytes = 64 * 1024

// submitTransaction handles POST /v1/transactions: intake, pipeline
// evaluation, and (on Approve) channel routing, synchronously.
func (s *Server) submitTransaction(c *gin.Context) {
	var req struct {
		Sender    string  `json:"sender" binding:"required"`
		Recipient string  `json:"recipient" binding:"required"`
		Amount    float64 `json:"amount" binding:"required"`
		Payload   []byte  `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sender, recipient, and amount are required",
		})
		return
	}

	req.Sender = strings.TrimSpace(req.Sender)
	req.Recipient = strings.TrimSpace(req.Recipient)
	switch {
	case req.Sender == "" || req.Recipient == "":
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sender and recipient must be non-empty",
		})
		return
	case req.Sender == req.Recipient:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sender and recipient must differ",
		})
		return
	case req.Amount <= 0:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be positive",
		})
		return
	case len(req.Payload) > maxPayloadBytes:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "payload_too_large",
			"message": "payload exceeds 64KiB",
		})
		return
	}

	tx := payment.New(req.Sender, req.Recipient, req.Amount, req.Payload)
	ctx := logging.WithTransactionID(c.Request.Context(), tx.ID)

	out, err := s.coordinator.Process(ctx, tx)
	if err != nil {
		logging.L(ctx).Error("transaction processing failed", "error", err)
		if out != nil && out.Verdict != nil {
			// Verdict was reached but delivery failed outright.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "delivery_failed",
				"message": "all delivery channels exhausted",
				"outcome": out,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process transaction",
		})
		return
	}

	c.JSON(http.StatusCreated, out)
}

// transactionAudit handles GET /v1/transactions/:id/audit.
func (s *Server) transactionAudit(c *gin.Context) {
	txnID := c.Param("id")
	records, err := s.auditQuerier.ByTransaction(c.Request.Context(), txnID)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactionId": txnID,
		"records":       records,
		"count":         len(records),
	})
}

// recentAudit handles GET /v1/audit/recent?limit=n.
func (s *Server) recentAudit(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 500)
	records, err := s.auditQuerier.Recent(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// trustProfile handles GET /v1/users/:id/trust.
func (s *Server) trustProfile(c *gin.Context) {
	userID := c.Param("id")
	profile, err := s.trustStore.Read(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("trust read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// scamNeighborhood handles GET /v1/users/:id/graph?limit=n.
func (s *Server) scamNeighborhood(c *gin.Context) {
	party := c.Param("id")
	limit := queryInt(c, "limit", 50, 200)
	edges, err := s.scamGraph.Neighborhood(c.Request.Context(), party, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("scam graph query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": party, "edges": edges, "count": len(edges)})
}

// listPending handles GET /v1/pending?limit=n.
func (s *Server) listPending(c *gin.Context) {
	limit := queryInt(c, "limit", 100, 500)
	items, err := s.pendingStore.List(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("pending list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	depth, _ := s.pendingStore.Depth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"items": items, "depth": depth})
}

// triggerReplay handles POST /v1/pending/replay: runs one replay round now
// instead of waiting for the next tick.
func (s *Server) triggerReplay(c *gin.Context) {
	s.replayer.ReplayOnce(c.Request.Context())
	depth, _ := s.pendingStore.Depth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "completed", "depth": depth})
}

// feedStats handles GET /v1/feed/stats.
func (s *Server) feedStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

func queryInt(c *gin.Context, key string, def, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
