package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"giveaway/internal/auth"
	"giveaway/internal/escrow"
	"giveaway/internal/events"
	"giveaway/internal/models"
	"giveaway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlerConfig holds the dependencies of the HTTP API.
type HandlerConfig struct {
	Service  *services.GiveawayService
	Vault    *escrow.Vault
	Tokens   *auth.Tokens
	Bus      *events.Bus
	Gatherer prometheus.Gatherer
	// Limiter is optional; without it requests are not rate limited.
	Limiter *RateLimiter
}

// HTTPHandler holds the dependencies for the HTTP handlers, like the giveaway service.
type HTTPHandler struct {
	service  *services.GiveawayService
	vault    *escrow.Vault
	tokens   *auth.Tokens
	bus      *events.Bus
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(cfg HandlerConfig) *HTTPHandler {
	return &HTTPHandler{
		service:  cfg.Service,
		vault:    cfg.Vault,
		tokens:   cfg.Tokens,
		bus:      cfg.Bus,
		gatherer: cfg.Gatherer,
		limiter:  cfg.Limiter,
	}
}

// Mount registers every route on router.
func (h *HTTPHandler) Mount(router *gin.Engine) {
	h.RegisterPublicRoutes(router)

	api := router.Group("/api")
	api.Use(h.AuthMiddleware())
	if h.limiter != nil {
		api.Use(h.limiter.Middleware())
	}
	h.RegisterAuthenticatedRoutes(api)
}

// RegisterPublicRoutes registers the routes that need no token.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	if h.bus != nil {
		router.GET("/events", h.StreamEvents)
	}

	public := router.Group("/api")
	if h.limiter != nil {
		public.Use(h.limiter.Middleware())
	}
	public.GET("/giveaways/:id", h.GetGiveaway)
	public.GET("/giveaways/:id/stats", h.GetStats)
	public.GET("/giveaways/:id/entries/:address", h.GetEntry)
	if h.vault != nil {
		public.GET("/balances/:asset/:address", h.GetBalance)
	}
}

// RegisterAuthenticatedRoutes registers the routes that act on behalf of the
// token holder. rg must already run AuthMiddleware.
func (h *HTTPHandler) RegisterAuthenticatedRoutes(rg *gin.RouterGroup) {
	rg.POST("/giveaways", h.CreateGiveaway)
	rg.POST("/giveaways/:id/entries", h.EnterGiveaway)
	rg.POST("/giveaways/:id/distribute", h.DistributePrize)

	authority := rg.Group("/authority")
	authority.Use(RequireRoleMiddleware(auth.RoleAuthority))
	authority.POST("/giveaways/:id/end", h.EndGiveaway)
	authority.POST("/giveaways/:id/claimable", h.MarkClaimable)
	if h.vault != nil {
		authority.POST("/mint", h.Mint)
	}
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createGiveawayRequest struct {
	Asset   models.Address `json:"asset" binding:"required"`
	Amount  models.Amount  `json:"amount"`
	EndTime time.Time      `json:"end_time"`
}

type claimableRequest struct {
	Winner models.Address `json:"winner" binding:"required"`
}

type mintRequest struct {
	Asset  models.Address `json:"asset" binding:"required"`
	Owner  models.Address `json:"owner" binding:"required"`
	Amount models.Amount  `json:"amount"`
}

func giveawayID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid giveaway id"})
		return 0, false
	}
	return id, true
}

func caller(c *gin.Context) models.Address {
	p, _ := auth.FromContext(c.Request.Context())
	return p.Address
}

// CreateGiveaway escrows the caller's prize and opens a giveaway.
func (h *HTTPHandler) CreateGiveaway(c *gin.Context) {
	var req createGiveawayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EndTime.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time is required"})
		return
	}

	id, err := h.service.Create(c.Request.Context(), caller(c), req.Asset, req.Amount, req.EndTime)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GetGiveaway returns one giveaway.
func (h *HTTPHandler) GetGiveaway(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	g, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// GetStats returns the entry count and prize of a giveaway.
func (h *HTTPHandler) GetStats(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetEntry reports whether an address entered a giveaway.
func (h *HTTPHandler) GetEntry(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	who := models.Address(c.Param("address"))
	entered, err := h.service.HasEntered(c.Request.Context(), id, who)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "address": who, "entered": entered})
}

// EnterGiveaway enters the caller into a giveaway.
func (h *HTTPHandler) EnterGiveaway(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	who := caller(c)
	if err := h.service.Enter(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "address": who, "entered": true})
}

// DistributePrize pays out a claimable giveaway to its winner.
func (h *HTTPHandler) DistributePrize(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	if err := h.service.Distribute(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	g, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// EndGiveaway closes a giveaway whose end time has passed.
func (h *HTTPHandler) EndGiveaway(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	if err := h.service.End(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusEnded})
}

// MarkClaimable designates the winner of an ended giveaway.
func (h *HTTPHandler) MarkClaimable(c *gin.Context) {
	id, ok := giveawayID(c)
	if !ok {
		return
	}
	var req claimableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.MarkClaimable(c.Request.Context(), id, req.Winner); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusClaimable, "winner": req.Winner})
}

// Mint credits tokens in the development vault.
func (h *HTTPHandler) Mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.vault.Mint(req.Asset, req.Owner, req.Amount); err != nil {
		respondError(c, err)
		return
	}
	logger.Infof("%s minted %s of %s to %s", caller(c), req.Amount, req.Asset, req.Owner)
	c.JSON(http.StatusOK, gin.H{
		"asset":   req.Asset,
		"owner":   req.Owner,
		"balance": h.vault.Balance(req.Asset, req.Owner),
	})
}

// GetBalance returns an address's balance in the development vault.
func (h *HTTPHandler) GetBalance(c *gin.Context) {
	asset := models.Address(c.Param("asset"))
	owner := models.Address(c.Param("address"))
	c.JSON(http.StatusOK, gin.H{
		"asset":   asset,
		"owner":   owner,
		"balance": h.vault.Balance(asset, owner),
	})
}

// respondError writes err with the status its class maps to.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrDuplicateEntry),
		errors.Is(err, services.ErrNotClaimable),
		errors.Is(err, services.ErrNotActive),
		errors.Is(err, services.ErrNotEnded),
		errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNoWinner),
		errors.Is(err, models.ErrAmountOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
