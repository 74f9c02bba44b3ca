package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/monastery360/offline-proxy/internal/generation"
	"github.com/monastery360/offline-proxy/internal/lifecycle"
	"github.com/monastery360/offline-proxy/internal/metrics"
)

const maxControlBody = 1 << 20

// Control serves the channel the client application uses to reach the
// lifecycle hooks that are not requests: messages, push and deploys.
type Control struct {
	bridge *lifecycle.Bridge
	inbox  *lifecycle.Inbox
}

func NewControl(bridge *lifecycle.Bridge, inbox *lifecycle.Inbox) *Control {
	return &Control{bridge: bridge, inbox: inbox}
}

// Routes configures all routes and middleware
func (c *Control) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)

	router.Get("/health", c.health)
	router.Handle("/metrics", metrics.Handler())

	router.Get("/generation", c.generation)
	router.Get("/caches", c.caches)
	router.Post("/install", c.install)
	router.Post("/activate", c.activate)

	router.Post("/message", c.message)
	router.Post("/push", c.push)
	router.Post("/sync", c.sync)

	router.Route("/notifications", func(r chi.Router) {
		r.Get("/", c.notifications)
		r.Post("/{id}/click", c.click)
	})
	return router
}

func (c *Control) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type generationsResponse struct {
	Active  *generation.Generation `json:"active"`
	Pending *generation.Generation `json:"pending"`
}

func (c *Control) generation(w http.ResponseWriter, r *http.Request) {
	active, pending := c.bridge.Generations()
	writeJSON(w, http.StatusOK, generationsResponse{Active: active, Pending: pending})
}

func (c *Control) caches(w http.ResponseWriter, r *http.Request) {
	names, err := c.bridge.CacheNames(r.Context())
	if err != nil {
		logrus.Errorf("Failed to list caches: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

type installRequest struct {
	Version string `json:"version"`
}

func (c *Control) install(w http.ResponseWriter, r *http.Request) {
	var body installRequest
	if err := decode(r, &body); err != nil || body.Version == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"version\": string}")
		return
	}

	err := c.bridge.Install(r.Context(), body.Version)
	var ierr *generation.InstallError
	switch {
	case errors.As(err, &ierr):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		logrus.Errorf("Install of %s failed: %v", body.Version, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.generation(w, r)
}

func (c *Control) activate(w http.ResponseWriter, r *http.Request) {
	if err := c.bridge.Activate(r.Context()); err != nil {
		logrus.Errorf("Activate failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.generation(w, r)
}

func (c *Control) message(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.bridge.Message(r.Context(), data); err != nil {
		logrus.Errorf("Message handling failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// push always answers 202; invalid payloads are dropped without a reply.
func (c *Control) push(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err == nil {
		c.bridge.Push(r.Context(), data)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Control) notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.inbox.List())
}

func (c *Control) click(w http.ResponseWriter, r *http.Request) {
	target, err := c.bridge.NotificationClick(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, lifecycle.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": target})
}

type syncRequest struct {
	Tag string `json:"tag"`
}

func (c *Control) sync(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"tag\": string}")
		return
	}
	if err := c.bridge.Sync(r.Context(), body.Tag); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
