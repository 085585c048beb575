package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/otpbay/otpbay/internal/models"
	"github.com/otpbay/otpbay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// proxyRequest is the union of the relay's two request shapes. A non-empty
// Action selects the high-level shape; otherwise Provider and Endpoint are
// required.
type proxyRequest struct {
	Action  string                `json:"action"`
	Payload service.ActionPayload `json:"payload"`

	Provider string      `json:"provider"`
	Endpoint string      `json:"endpoint"`
	Method   string      `json:"method"`
	Body     interface{} `json:"body"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type rechargeRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type HTTPHandler struct {
	orders *service.OrderService
	relay  *service.Relay
	logger *logrus.Logger
}

func NewHTTPHandler(orders *service.OrderService, relay *service.Relay, logger *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, relay: relay, logger: logger}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "otpbay"})
}

// Proxy relays a request to a third-party number provider. Registered for
// every method so non-POST calls get a 405 instead of gin's default 404.
func (h *HTTPHandler) Proxy(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed."})
		return
	}

	var req proxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	var (
		resp *service.RelayResponse
		err  error
	)

	if req.Action != "" {
		if service.ActionRequiresAuth(req.Action) {
			if _, ok := c.Get("user_id"); !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication is required for this action."})
				return
			}
		}
		resp, err = h.relay.Action(c.Request.Context(), service.ActionRequest{
			Action:  req.Action,
			Payload: req.Payload,
		})
	} else {
		if req.Provider == "" || req.Endpoint == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Provider and endpoint are required."})
			return
		}
		resp, err = h.relay.Relay(c.Request.Context(), service.RelayRequest{
			Provider: req.Provider,
			Endpoint: req.Endpoint,
			Method:   req.Method,
			Body:     req.Body,
		})
	}

	if err != nil {
		h.relayError(c, err, req)
		return
	}

	c.Data(resp.StatusCode, "application/json", resp.Body)
}

func (h *HTTPHandler) relayError(c *gin.Context, err error, req proxyRequest) {
	switch {
	case errors.Is(err, models.ErrProviderNotFound):
		name := req.Provider
		if name == "" {
			name = req.Payload.Provider
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("API provider '%s' not found.", name)})
	case errors.Is(err, models.ErrRegistryUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Provider registry is unavailable."})
	case errors.Is(err, models.ErrUpstream):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Provider request failed."})
	default:
		h.logger.WithError(err).Error("Proxy request failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// PurchaseOrder buys a number: one atomic balance debit plus order insert.
func (h *HTTPHandler) PurchaseOrder(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Service, price, provider and server are required."})
		return
	}

	order, err := h.orders.Purchase(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient balance."})
		case errors.Is(err, models.ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": "You already have an active order."})
		case errors.Is(err, models.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
		default:
			h.logger.WithError(err).Error("Purchase failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order."})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// UpdateOrderStatus finishes, cancels or expires the caller's order.
func (h *HTTPHandler) UpdateOrderStatus(c *gin.Context) {
	userID := c.GetString("user_id")
	orderID := c.Param("order_id")

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status is required."})
		return
	}

	status := models.OrderStatus(req.Status)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid status '%s'.", req.Status)})
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), userID, orderID, status)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found."})
		case errors.Is(err, models.ErrIllegalTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Order status cannot be changed."})
		default:
			h.logger.WithError(err).Error("Status update failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order."})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListOrders returns the caller's order history, newest first.
func (h *HTTPHandler) ListOrders(c *gin.Context) {
	userID := c.GetString("user_id")

	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Limit must be between 1 and 200."})
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// ActiveOrder returns the caller's current PENDING order, or null.
func (h *HTTPHandler) ActiveOrder(c *gin.Context) {
	userID := c.GetString("user_id")

	order, err := h.orders.ActiveOrder(c.Request.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up active order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up active order."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// Profile returns the caller's account, including balance.
func (h *HTTPHandler) Profile(c *gin.Context) {
	userID := c.GetString("user_id")

	user, err := h.orders.GetProfile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
			return
		}
		h.logger.WithError(err).Error("Failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Recharge credits the caller's balance.
func (h *HTTPHandler) Recharge(c *gin.Context) {
	userID := c.GetString("user_id")

	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be greater than zero."})
		return
	}

	user, err := h.orders.Recharge(c.Request.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
			return
		}
		h.logger.WithError(err).Error("Recharge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recharge balance."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Sweep runs the expiry sweep on demand. The scheduler calls the same code
// path on its interval; this endpoint exists for operators and cron.
func (h *HTTPHandler) Sweep(c *gin.Context) {
	count, err := h.orders.SweepExpired(c.Request.Context(), h.orders.Now())
	if err != nil {
		h.logger.WithError(err).Error("Expiry sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process expired orders."})
		return
	}

	if count == 0 {
		c.String(http.StatusOK, "No expired orders found.")
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Successfully processed %d expired orders.", count))
}
