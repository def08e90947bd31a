package handlers

import (
	"context"
	"net/http"
	"strings"

	"eddm-registry/internal/models"
	"eddm-registry/internal/services"

	"go.uber.org/zap"
)

// Registry is the part of services.RegistryService the public endpoints use.
type Registry interface {
	LookupRoute(ctx context.Context, freeText string) (*models.RouteLookup, error)
	RouteStats(ctx context.Context, zipRoute, state string) (models.RouteStats, error)
	Register(ctx context.Context, req models.OptOutRequest) (*models.OptOutResult, error)
}

type RegistryHandler struct {
	registry Registry
	logr     *zap.Logger
}

func NewRegistryHandler(registry Registry, logr *zap.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logr: logr}
}

type carrierRouteReq struct {
	Address string `json:"address"`
}

// LookupCarrierRoute handles POST /carrier-route
func (h *RegistryHandler) LookupCarrierRoute(w http.ResponseWriter, r *http.Request) {
	var req carrierRouteReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Could not understand address")
		return
	}

	lookup, err := h.registry.LookupRoute(r.Context(), req.Address)
	if err != nil {
		status, msg := statusFor(err, "Failed to load route statistics, please try again")
		h.log(status, "carrier route lookup failed", zap.Error(err))
		writeError(w, status, msg)
		return
	}

	h.logr.Info("carrier route resolved", zap.String("zip_route", lookup.ZipRoute))
	writeData(w, lookup)
}

// RouteStats handles GET /route-stats?zipRoute=62704C045&state=IL
func (h *RegistryHandler) RouteStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zipRoute := strings.TrimSpace(q.Get("zipRoute"))
	if zipRoute == "" {
		writeError(w, http.StatusBadRequest, "zipRoute is required")
		return
	}

	stats, err := h.registry.RouteStats(r.Context(), zipRoute, q.Get("state"))
	if err != nil {
		status, msg := statusFor(err, "Failed to load route statistics")
		h.log(status, "route stats failed", zap.String("zip_route", zipRoute), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	writeData(w, stats)
}

// DoNotDeliver handles POST /do-not-deliver
func (h *RegistryHandler) DoNotDeliver(w http.ResponseWriter, r *http.Request) {
	var req models.OptOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	result, err := h.registry.Register(r.Context(), req)
	if err != nil {
		status, msg := statusFor(err, "Failed to register opt-out, please try again")
		h.log(status, "opt-out failed", zap.String("zip_route", strings.ToUpper(req.ZipCode+req.CarrierRoute)), zap.Error(err))
		writeError(w, status, msg)
		return
	}

	fields := []zap.Field{
		zap.String("zip_route", result.ZipRoute),
		zap.Bool("is_new", result.IsNewOptOut),
	}
	if result.MilestoneReached != nil {
		fields = append(fields, zap.Int("milestone", *result.MilestoneReached))
	}
	h.logr.Info("opt-out handled", fields...)
	writeData(w, result)
}

// log reports client mistakes at warn and upstream or storage failures at error.
func (h *RegistryHandler) log(status int, msg string, fields ...zap.Field) {
	if status < http.StatusInternalServerError {
		h.logr.Warn(msg, fields...)
		return
	}
	h.logr.Error(msg, fields...)
}

var _ Registry = (*services.RegistryService)(nil)
