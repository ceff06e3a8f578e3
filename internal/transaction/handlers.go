package transaction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gametrust/gametrust/internal/negotiation"
	"github.com/gametrust/gametrust/internal/protection"
	"github.com/gametrust/gametrust/internal/safeperiod"
	"github.com/gametrust/gametrust/internal/validation"
)

// Handler provides HTTP endpoints for the transaction workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up participant routes. Callers are identified by the
// actor middleware; admin-only routes go through RegisterAdminRoutes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/sellers/:id/transactions", h.ListSellerTransactions)

	r.GET("/transactions/:id/messages", h.GetThread)
	r.POST("/transactions/:id/messages", h.PostMessage)
	r.POST("/transactions/:id/offer", h.MakeOffer)
	r.POST("/transactions/:id/accept", h.Accept)
	r.POST("/transactions/:id/reject", h.Reject)

	r.POST("/transactions/:id/safe-period/start", h.StartSafePeriod)

	r.POST("/transactions/:id/protection/purchase", h.PurchaseProtection)
	r.POST("/transactions/:id/protection/redeem", h.RedeemProtection)
}

// RegisterAdminRoutes sets up admin-only safe-period routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/safe-period/extend", h.ExtendSafePeriod)
	r.POST("/transactions/:id/safe-period/resolve", h.ResolveSafePeriod)
}

// MessageRequest is the body for posting a chat message.
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// OfferRequest is the body for offers, counter-offers and acceptance.
type OfferRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// StartSafePeriodRequest is the body for starting the verification window.
type StartSafePeriodRequest struct {
	BuyerID string `json:"buyerId" binding:"required"`
}

// ExtendRequest is the body for extending the verification window.
type ExtendRequest struct {
	AddedHours int `json:"addedHours" binding:"required"`
}

// ResolveRequest is the body for resolving the verification window.
type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required"` // released or disputed
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "listingId and sellerId are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("listing_id", req.ListingID),
		validation.Required("seller_id", req.SellerID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	txn, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create transaction",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ListSellerTransactions handles GET /v1/sellers/:id/transactions
func (h *Handler) ListSellerTransactions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	txns, err := h.service.ListBySeller(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetThread handles GET /v1/transactions/:id/messages
func (h *Handler) GetThread(c *gin.Context) {
	thread, err := h.service.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactionId": thread.TransactionID,
		"messages":      thread.Messages,
		"closed":        thread.Closed(),
	})
}

// PostMessage handles POST /v1/transactions/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	role, actorID, ok := caller(c)
	if !ok {
		return
	}

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "text is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("text", req.Text, validation.MaxTextLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	msg, err := h.service.PostMessage(c.Request.Context(), c.Param("id"), role, actorID, req.Text)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MakeOffer handles POST /v1/transactions/:id/offer
func (h *Handler) MakeOffer(c *gin.Context) {
	role, actorID, ok := caller(c)
	if !ok {
		return
	}

	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	msg, err := h.service.MakeOffer(c.Request.Context(), c.Param("id"), role, actorID, req.Amount)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// Accept handles POST /v1/transactions/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	role, actorID, ok := caller(c)
	if !ok {
		return
	}

	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	txn, err := h.service.Accept(c.Request.Context(), c.Param("id"), role, actorID, req.Amount)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// Reject handles POST /v1/transactions/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	role, actorID, ok := caller(c)
	if !ok {
		return
	}

	txn, err := h.service.Reject(c.Request.Context(), c.Param("id"), role, actorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// StartSafePeriod handles POST /v1/transactions/:id/safe-period/start
func (h *Handler) StartSafePeriod(c *gin.Context) {
	var req StartSafePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "buyerId is required",
		})
		return
	}

	txn, err := h.service.StartSafePeriod(c.Request.Context(), c.Param("id"), req.BuyerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ExtendSafePeriod handles POST /v1/transactions/:id/safe-period/extend
func (h *Handler) ExtendSafePeriod(c *gin.Context) {
	_, actorID, ok := caller(c)
	if !ok {
		return
	}

	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "addedHours is required",
		})
		return
	}

	txn, err := h.service.ExtendSafePeriod(c.Request.Context(), c.Param("id"), actorID, req.AddedHours)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ResolveSafePeriod handles POST /v1/transactions/:id/safe-period/resolve
func (h *Handler) ResolveSafePeriod(c *gin.Context) {
	_, actorID, ok := caller(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required (released or disputed)",
		})
		return
	}

	txn, err := h.service.ResolveSafePeriod(c.Request.Context(), c.Param("id"), actorID, safeperiod.Outcome(req.Outcome))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// PurchaseProtection handles POST /v1/transactions/:id/protection/purchase
func (h *Handler) PurchaseProtection(c *gin.Context) {
	_, actorID, ok := caller(c)
	if !ok {
		return
	}

	txn, err := h.service.PurchaseProtection(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// RedeemProtection handles POST /v1/transactions/:id/protection/redeem
func (h *Handler) RedeemProtection(c *gin.Context) {
	_, actorID, ok := caller(c)
	if !ok {
		return
	}

	txn, err := h.service.RedeemProtection(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// caller reads the actor identity set by the actor middleware.
func caller(c *gin.Context) (negotiation.Role, string, bool) {
	actorID := c.GetString("actorId")
	roleStr := c.GetString("actorRole")
	role, ok := negotiation.ParseRole(roleStr)
	if actorID == "" || !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Actor identity headers missing or invalid",
		})
		return "", "", false
	}
	return role, actorID, true
}

// writeServiceError maps workflow errors onto HTTP responses. The categories
// let a caller distinguish "retry is safe" (conflict) from "operation is
// illegal" (state errors) and from bad input (validation).
func writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, negotiation.ErrInvalidAmount),
		errors.Is(err, negotiation.ErrAmountMismatch),
		errors.Is(err, negotiation.ErrInvalidRole),
		errors.Is(err, safeperiod.ErrInvalidExtension),
		errors.Is(err, safeperiod.ErrInvalidOutcome):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, negotiation.ErrThreadClosed):
		status = http.StatusConflict
		code = "thread_closed"
	case errors.Is(err, safeperiod.ErrAlreadyResolved):
		status = http.StatusConflict
		code = "already_resolved"
	case errors.Is(err, ErrAlreadyPurchased):
		status = http.StatusConflict
		code = "already_purchased"
	case errors.Is(err, protection.ErrPlanExpired):
		status = http.StatusConflict
		code = "plan_expired"
	case errors.Is(err, protection.ErrPlanNotActive):
		status = http.StatusConflict
		code = "plan_not_active"
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
