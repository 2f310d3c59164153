// Package admin exposes the operator API: whitelist, blocklist, and
// opt-out management. Every route requires the shared admin secret;
// with no secret configured the whole surface answers 503 so it can
// never be left open by accident.
package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/whitelist"
)

// SecretHeader carries the admin secret on each request.
const SecretHeader = "X-Admin-Secret"

// Middleware authenticates admin requests against secret.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is disabled: no admin secret configured",
			})
			return
		}
		got := sha256.Sum256([]byte(c.GetHeader(SecretHeader)))
		want := sha256.Sum256([]byte(secret))
		if !hmac.Equal(got[:], want[:]) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or missing " + SecretHeader + " header",
			})
			return
		}
		c.Next()
	}
}

// Handler serves the admin routes.
type Handler struct {
	whitelist *whitelist.List
	blocks    *blocklist.List
	optouts   *optout.Ledger
	resetters []blocklist.CounterResetter
	logger    *slog.Logger
}

// NewHandler creates an admin handler. resetters are applied when a
// sender is unblocked so they rejoin with clean counters.
func NewHandler(
	wl *whitelist.List,
	blocks *blocklist.List,
	optouts *optout.Ledger,
	logger *slog.Logger,
	resetters ...blocklist.CounterResetter,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		whitelist: wl,
		blocks:    blocks,
		optouts:   optouts,
		resetters: resetters,
		logger:    logger,
	}
}

// RegisterRoutes mounts the admin API under /admin, guarded by secret.
func (h *Handler) RegisterRoutes(r gin.IRouter, secret string) {
	grp := r.Group("/admin")
	grp.Use(Middleware(secret))

	grp.GET("/whitelist", h.listWhitelist)
	grp.POST("/whitelist", h.addWhitelist)
	grp.DELETE("/whitelist/:phone", h.removeWhitelist)

	grp.GET("/blocklist", h.listBlocklist)
	grp.POST("/blocklist", h.addBlocklist)
	grp.DELETE("/blocklist/:phone", h.removeBlocklist)

	grp.GET("/optouts", h.listOptOuts)
	grp.DELETE("/optouts/:phone", h.clearOptOut)
}

type phoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// canonicalBody parses the JSON body and normalizes the phone number.
// Returns "" after writing the error response when the input is bad.
func (h *Handler) canonicalBody(c *gin.Context) string {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with a \"phone\" field",
		})
		return ""
	}
	return h.canonical(c, req.Phone)
}

func (h *Handler) canonical(c *gin.Context, raw string) string {
	sender := phone.Normalize(raw)
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_phone",
			"message": "Phone number could not be normalized",
		})
		return ""
	}
	return sender
}

func (h *Handler) listWhitelist(c *gin.Context) {
	members, err := h.whitelist.Members(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"whitelist": members, "count": len(members)})
}

func (h *Handler) addWhitelist(c *gin.Context) {
	sender := h.canonicalBody(c)
	if sender == "" {
		return
	}
	if err := h.whitelist.Add(c.Request.Context(), sender); err != nil {
		h.storeError(c, err)
		return
	}
	h.logger.Info("whitelist add", "sender", sender)
	c.JSON(http.StatusCreated, gin.H{"phone": sender, "whitelisted": true})
}

func (h *Handler) removeWhitelist(c *gin.Context) {
	sender := h.canonical(c, c.Param("phone"))
	if sender == "" {
		return
	}
	if err := h.whitelist.Remove(c.Request.Context(), sender); err != nil {
		h.storeError(c, err)
		return
	}
	h.logger.Info("whitelist remove", "sender", sender)
	c.JSON(http.StatusOK, gin.H{"phone": sender, "whitelisted": false})
}

func (h *Handler) listBlocklist(c *gin.Context) {
	members, err := h.blocks.Members(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocklist": members, "count": len(members)})
}

func (h *Handler) addBlocklist(c *gin.Context) {
	sender := h.canonicalBody(c)
	if sender == "" {
		return
	}
	if err := h.blocks.Block(c.Request.Context(), sender); err != nil {
		h.storeError(c, err)
		return
	}
	h.logger.Info("blocklist add", "sender", sender)
	c.JSON(http.StatusCreated, gin.H{"phone": sender, "blocked": true})
}

func (h *Handler) removeBlocklist(c *gin.Context) {
	sender := h.canonical(c, c.Param("phone"))
	if sender == "" {
		return
	}
	if err := h.blocks.Unblock(c.Request.Context(), sender, h.resetters...); err != nil {
		h.storeError(c, err)
		return
	}
	h.logger.Info("blocklist remove", "sender", sender)
	c.JSON(http.StatusOK, gin.H{"phone": sender, "blocked": false})
}

func (h *Handler) listOptOuts(c *gin.Context) {
	members, err := h.optouts.List(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optouts": members, "count": len(members)})
}

// clearOptOut is the operator override for a sender who opted out by
// mistake. Carrier rules put the burden on the operator here; the
// decision pipeline itself never clears an opt-out without an OPT_IN
// or gate-keyword rejoin from the sender.
func (h *Handler) clearOptOut(c *gin.Context) {
	sender := h.canonical(c, c.Param("phone"))
	if sender == "" {
		return
	}
	if err := h.optouts.ClearOptOut(c.Request.Context(), sender); err != nil {
		h.storeError(c, err)
		return
	}
	h.logger.Info("opt-out cleared by admin", "sender", sender)
	c.JSON(http.StatusOK, gin.H{"phone": sender, "opted_out": false})
}

func (h *Handler) storeError(c *gin.Context, err error) {
	h.logger.Error("admin store operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Store operation failed",
	})
}
