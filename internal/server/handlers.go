package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/actions"
	"github.com/nettics/hswarden/internal/admin"
	"github.com/nettics/hswarden/internal/eventbus"
	"github.com/nettics/hswarden/internal/route"
	"github.com/nettics/hswarden/internal/state"
	"github.com/nettics/hswarden/internal/status"
)

// Handlers bundles the API server's dependencies.
type Handlers struct {
	State       *state.Store
	Status      *status.Store
	Bus         *eventbus.Bus
	Dispatcher  *actions.Dispatcher
	Route       *route.Integration
	InternalURL string
}

// Health reports the warden's own liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus returns the reconciliation status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Status.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetConfig returns the stored declarative options.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	opts, version, err := h.State.Options()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"options": opts,
		"version": version,
	})
}

// PutConfig replaces the declarative options document. Invalid options are
// rejected here so the desired store never holds unusable input.
func (h *Handlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	var opts state.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.State.PutOptions(opts); err != nil {
		if errors.Is(err, state.ErrConfigInvalid) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeConfigChanged})
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type routeRequest struct {
	ExternalHost string `json:"external_host"`
}

// PutRoute records the ingress integration's external host.
func (h *Handlers) PutRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Route.SetExternalHost(req.ExternalHost); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// DeleteRoute removes the ingress integration.
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.Route.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// GetTraefikConfig returns the ingress proxy configuration for the current
// desired state. 404 when the route integration is absent.
func (h *Handlers) GetTraefikConfig(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.State.Snapshot()
	if err != nil {
		if errors.Is(err, state.ErrConfigInvalid) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snapshot.Facts.ExternalHost == "" {
		writeError(w, http.StatusNotFound, errors.New("route integration not present"))
		return
	}

	cfg := route.GenerateTraefikConfig(snapshot.Options.Name, snapshot.ServerName(), h.InternalURL)
	writeJSON(w, http.StatusOK, cfg)
}

// PostAction dispatches a named imperative action.
func (h *Handlers) PostAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	args := map[string]any{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := h.Dispatcher.Dispatch(r.Context(), name, args)
	writeJSON(w, actionStatusCode(err), result)
}

// ListAuthKeys is the read-only shorthand for the list action.
func (h *Handlers) ListAuthKeys(w http.ResponseWriter, r *http.Request) {
	result, err := h.Dispatcher.Dispatch(r.Context(), actions.ActionListAuthKeys, nil)
	writeJSON(w, actionStatusCode(err), result)
}

// actionStatusCode maps the action error taxonomy onto HTTP codes.
func actionStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, actions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, actions.ErrInvalidDuration), errors.Is(err, actions.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
