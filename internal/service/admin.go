package service

import (
	"encoding/json"
	"net/http"

	"RouteLane/internal/biz"
	pkglog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// AdminService exposes operational endpoints: provider health inspection,
// forced configuration sync and the liveness probe.
type AdminService struct {
	router   *biz.RouterUseCase
	provider *biz.ProviderUsecase
	logger   *pkglog.LogHelper
}

// NewAdminService creates the admin service.
func NewAdminService(router *biz.RouterUseCase, provider *biz.ProviderUsecase, logger log.Logger) *AdminService {
	return &AdminService{
		router:   router,
		provider: provider,
		logger:   pkglog.NewLogHelper(logger),
	}
}

// Providers handles GET /admin/providers, returning the routing health of
// every provider in the current snapshot.
func (s *AdminService) Providers(w http.ResponseWriter, r *http.Request) {
	statuses := s.router.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": statuses,
		"count":     len(statuses),
	})
}

// SyncProviders handles POST /admin/providers/sync, invalidating the
// provider cache and rebuilding the snapshot from the database.
func (s *AdminService) SyncProviders(w http.ResponseWriter, r *http.Request) {
	if err := s.provider.ForceSync(r.Context()); err != nil {
		s.logger.Errorw("msg", "forced provider sync failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "provider sync failed",
		})
		return
	}

	count := len(s.router.Snapshot().Providers())
	s.logger.Gateway("forced provider sync completed", "providers", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"synced":    true,
		"providers": count,
	})
}

// Healthz handles GET /healthz.
func (s *AdminService) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
