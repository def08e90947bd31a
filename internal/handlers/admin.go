package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"eddm-registry/internal/auth"
	"eddm-registry/internal/models"
	"eddm-registry/internal/services"
	"eddm-registry/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AdminAuthenticator interface {
	LoginLocal(ctx context.Context, email, password string) (*auth.Token, *services.AdminInfo, error)
	LoginLDAP(ctx context.Context, username, password string) (*auth.Token, *services.AdminInfo, error)
}

type AdminRegistry interface {
	TopRoutes(ctx context.Context, filter models.RouteFilter) ([]models.RouteSummary, error)
	Subscribers(ctx context.Context, zipRoute string) ([]models.Subscriber, error)
	Milestones(ctx context.Context, limit int) ([]models.RouteMilestone, error)
}

type AdminHandler struct {
	authSvc  AdminAuthenticator
	registry AdminRegistry
	logr     *zap.Logger
}

func NewAdminHandler(authSvc AdminAuthenticator, registry AdminRegistry, logr *zap.Logger) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, registry: registry, logr: logr}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ldapReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResp struct {
	AccessToken string              `json:"access_token"`
	ExpiresAt   time.Time           `json:"access_expires_at"`
	User        *services.AdminInfo `json:"user"`
}

// LoginLocal handles POST /admin/login
func (h *AdminHandler) LoginLocal(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	tok, user, err := h.authSvc.LoginLocal(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logr.Warn("local login failed", zap.Error(err))
		h.writeLoginError(w, err)
		return
	}
	writeData(w, tokenResp{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: user})
}

// LoginLDAP handles POST /admin/ldap
func (h *AdminHandler) LoginLDAP(w http.ResponseWriter, r *http.Request) {
	var req ldapReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	tok, user, err := h.authSvc.LoginLDAP(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logr.Warn("ldap login failed", zap.Error(err), zap.String("username", req.Username))
		h.writeLoginError(w, err)
		return
	}
	writeData(w, tokenResp{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: user})
}

func (h *AdminHandler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotAdmin):
		writeError(w, http.StatusForbidden, "account is not an administrator")
	case errors.Is(err, services.ErrDirectoryUnavailable):
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	}
}

// TopRoutes handles GET /admin/routes?state=IL,WI&limit=50&offset=0
func (h *AdminHandler) TopRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RouteFilter{
		States: utils.ParseQueryList(q, "state"),
		Limit:  utils.ParseIntParam(q, "limit", 50, 500),
		Offset: utils.ParseIntParam(q, "offset", 0, 0),
	}

	routes, err := h.registry.TopRoutes(r.Context(), filter)
	if err != nil {
		h.logr.Error("failed to fetch top routes", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to retrieve routes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    routes,
		"count":   len(routes),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// Subscribers handles GET /admin/routes/{zipRoute}/subscribers
func (h *AdminHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	zipRoute := chi.URLParam(r, "zipRoute")
	subs, err := h.registry.Subscribers(r.Context(), zipRoute)
	if err != nil {
		status, msg := statusFor(err, "failed to retrieve subscribers")
		h.logr.Warn("failed to fetch subscribers", zap.String("zip_route", zipRoute), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	h.logr.Info("subscribers exported", zap.String("zip_route", zipRoute), zap.Int("count", len(subs)))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    subs,
		"count":   len(subs),
	})
}

// Milestones handles GET /admin/milestones?limit=100
func (h *AdminHandler) Milestones(w http.ResponseWriter, r *http.Request) {
	limit := utils.ParseIntParam(r.URL.Query(), "limit", 100, 500)
	milestones, err := h.registry.Milestones(r.Context(), limit)
	if err != nil {
		h.logr.Error("failed to fetch milestones", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to retrieve milestones")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    milestones,
		"count":   len(milestones),
	})
}
