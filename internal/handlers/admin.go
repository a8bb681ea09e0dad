package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/pipeline"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
)

// adminTimeout bounds store calls made by admin requests.
const adminTimeout = 10 * time.Second

// PolicyReloader reloads the endpoint policy snapshot.
type PolicyReloader interface {
	Refresh(ctx context.Context) error
	Status() endpoint.RefreshStatus
}

// SnapshotSource exposes the active endpoint policy snapshot.
type SnapshotSource interface {
	Snapshot() *endpoint.Snapshot
}

// AdminHandler serves the administrative endpoints. Routes must be mounted
// behind the dispatcher and a role check.
type AdminHandler struct {
	reloader PolicyReloader
	policies SnapshotSource
	sessions session.Writer
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler. sessions may be nil when the
// configured store cannot be written.
func NewAdminHandler(reloader PolicyReloader, policies SnapshotSource, sessions session.Writer, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		reloader: reloader,
		policies: policies,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers admin routes on the provided router.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/endpoints", h.ListEndpoints).Methods(http.MethodGet)
	router.HandleFunc("/endpoints/reload", h.ReloadEndpoints).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{authId}/revoke", h.RevokeSession).Methods(http.MethodPost)
	router.HandleFunc("/users/{userId}/revoke-sessions", h.RevokeUserSessions).Methods(http.MethodPost)
}

// EndpointListResponse is the body of GET /endpoints.
type EndpointListResponse struct {
	Version  uint64                  `json:"version"`
	LoadedAt time.Time               `json:"loaded_at"`
	Entries  []models.EndpointConfig `json:"entries"`
}

// ReloadResponse is the body of POST /endpoints/reload.
type ReloadResponse struct {
	Source  string `json:"source"`
	Version uint64 `json:"version"`
	Entries int    `json:"entries"`
}

// RevokeResponse is the body of the session revocation endpoints.
type RevokeResponse struct {
	Revoked int       `json:"revoked"`
	At      time.Time `json:"at"`
}

// ListEndpoints handles GET /endpoints and returns the active snapshot.
//
// Responses:
//   - 200: snapshot returned
//   - 503: no snapshot loaded yet
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, _ *http.Request) {
	snap := h.policies.Snapshot()
	if snap == nil {
		writeErrorResponse(w, h.logger, "not_loaded", "No endpoint policies loaded", http.StatusServiceUnavailable)
		return
	}

	writeJSONResponse(w, h.logger, EndpointListResponse{
		Version:  snap.Version,
		LoadedAt: snap.LoadedAt,
		Entries:  snap.Entries(),
	}, http.StatusOK)
}

// ReloadEndpoints handles POST /endpoints/reload. A failed reload keeps the
// previous snapshot.
//
// Responses:
//   - 200: new snapshot installed
//   - 502: source failed or returned invalid policies
func (h *AdminHandler) ReloadEndpoints(w http.ResponseWriter, r *http.Request) {
	entry := h.requestLogger(r)
	entry.Info("Processing endpoint policy reload request")

	if err := h.reloader.Refresh(r.Context()); err != nil {
		entry.WithError(err).Warn("Endpoint policy reload failed")
		writeErrorResponse(w, h.logger, "reload_failed", err.Error(), http.StatusBadGateway)
		return
	}

	status := h.reloader.Status()
	writeJSONResponse(w, h.logger, ReloadResponse{
		Source:  status.Source,
		Version: status.Version,
		Entries: status.Entries,
	}, http.StatusOK)
}

// RevokeSession handles POST /sessions/{authId}/revoke.
//
// Responses:
//   - 200: session revoked
//   - 404: no such session
//   - 501: session store is read-only
//   - 503: session store unavailable
func (h *AdminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeErrorResponse(w, h.logger, "not_supported", "Session store is read-only", http.StatusNotImplemented)
		return
	}

	authID := mux.Vars(r)["authId"]
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	at := time.Now().UTC()
	if err := h.sessions.Revoke(ctx, authID, at); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeErrorResponse(w, h.logger, "session_not_found", "Session not found", http.StatusNotFound)
			return
		}
		h.requestLogger(r).WithError(err).Error("Failed to revoke session")
		writeErrorResponse(w, h.logger, "temporarily_unavailable", "Failed to revoke session", http.StatusServiceUnavailable)
		return
	}

	h.requestLogger(r).Info("Session revoked by administrator")
	writeJSONResponse(w, h.logger, RevokeResponse{Revoked: 1, At: at}, http.StatusOK)
}

// RevokeUserSessions handles POST /users/{userId}/revoke-sessions and logs
// the user out everywhere.
//
// Responses:
//   - 200: sessions revoked (possibly zero)
//   - 501: session store is read-only
//   - 503: session store unavailable
func (h *AdminHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeErrorResponse(w, h.logger, "not_supported", "Session store is read-only", http.StatusNotImplemented)
		return
	}

	userID := mux.Vars(r)["userId"]
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	at := time.Now().UTC()
	n, err := h.sessions.RevokeAllForUser(ctx, userID, at)
	if err != nil {
		h.requestLogger(r).WithError(err).WithField("target_user_id", userID).Error("Failed to revoke user sessions")
		writeErrorResponse(w, h.logger, "temporarily_unavailable", "Failed to revoke user sessions", http.StatusServiceUnavailable)
		return
	}

	h.requestLogger(r).WithFields(logrus.Fields{
		"target_user_id":   userID,
		"sessions_revoked": n,
	}).Info("User sessions revoked by administrator")
	writeJSONResponse(w, h.logger, RevokeResponse{Revoked: n, At: at}, http.StatusOK)
}

// requestLogger returns a log entry naming the acting administrator.
func (h *AdminHandler) requestLogger(r *http.Request) *logrus.Entry {
	entry := logrus.NewEntry(h.logger)
	if sc := pipeline.FromContext(r.Context()); sc != nil {
		entry = entry.WithFields(logrus.Fields{
			"request_id": sc.RequestID,
			"admin_id":   sc.UserID,
		})
	}
	return entry
}
