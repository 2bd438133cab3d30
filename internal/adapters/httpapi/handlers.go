// Package httpapi exposes ingestion and asset state over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

// HeaderTenantID names the tenant a request acts for.
const HeaderTenantID = "X-Tenant-ID"

const defaultAuditLimit = 50

// Service is what the handlers need from the orchestrator.
type Service interface {
	Ingest(ctx context.Context, tenantID, assetID string, r domain.TelemetryReading) (domain.AssetReliabilityState, error)
	State(ctx context.Context, tenantID, assetID string) (domain.AssetReliabilityState, error)
	Audit(ctx context.Context, tenantID, assetID string, limit int) ([]domain.AuditRecord, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

type Handlers struct {
	svc Service
}

func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes mounts the API on rg:
//
//	POST /assets/:asset_id/telemetry
//	GET  /assets/:asset_id/state
//	GET  /assets/:asset_id/audit?limit=N
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	assets := rg.Group("/assets/:asset_id", requireTenant)
	assets.POST("/telemetry", h.HandleIngest)
	assets.GET("/state", h.HandleState)
	assets.GET("/audit", h.HandleAudit)
}

// NewRouter builds an engine with recovery, /healthz and the API under /v1.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func requireTenant(c *gin.Context) {
	if c.GetHeader(HeaderTenantID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: HeaderTenantID + " header is required"})
		return
	}
	c.Next()
}

func (h *Handlers) HandleIngest(c *gin.Context) {
	var r domain.TelemetryReading
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	state, err := h.svc.Ingest(c.Request.Context(), c.GetHeader(HeaderTenantID), c.Param("asset_id"), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) HandleState(c *gin.Context) {
	state, err := h.svc.State(c.Request.Context(), c.GetHeader(HeaderTenantID), c.Param("asset_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) HandleAudit(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recs, err := h.svc.Audit(c.Request.Context(), c.GetHeader(HeaderTenantID), c.Param("asset_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: domain.ErrValidation.Error(), Fields: verr.Fields})
	case errors.Is(err, domain.ErrStateNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrPersistence), errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
