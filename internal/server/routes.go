package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	playlistKey
)

const defaultChangeLimit = 50

// Router builds the relay's HTTP surface.
func (r *Relay) Router(middlewares ...Middleware) chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	mux.Use(RequestLogger(r.logger))
	for _, mw := range middlewares {
		mux.Use(mw)
	}
	mux.Use(r.cors)

	mux.Get("/healthz", r.handleHealth)
	mux.Group(func(g chi.Router) {
		g.Use(r.authenticate)
		g.With(r.requireViewer).Get("/ws/{playlistID}", r.handleSocket)
		g.Route("/playlists/{playlistID}", func(pr chi.Router) {
			pr.Use(r.requireViewer)
			pr.Get("/changes", r.handleChanges)
			pr.Get("/collaborators", r.handleCollaborators)
		})
	})
	return mux
}

// RequestLogger logs one line per request with its status and duration.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Debug("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(req.Context()),
			)
		})
	}
}

func (r *Relay) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if origin := req.Header.Get("Origin"); origin != "" && r.checkOrigin(req) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// authenticate verifies the relay token and puts its subject in the request context.
func (r *Relay) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := req.Header.Get("Authorization")
		if raw == "" {
			raw = req.URL.Query().Get("token")
		}
		if strings.TrimSpace(raw) == "" || r.signer == nil {
			writeError(w, shared.ErrNotAuthenticated)
			return
		}
		claims, err := r.signer.Verify(raw)
		if err != nil {
			writeError(w, shared.ErrNotAuthenticated)
			return
		}
		ctx := identity.NewContext(req.Context(), claims.Subject)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// requireViewer loads the playlist named in the path and rejects users who may not see it.
func (r *Relay) requireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		userID, _ := identity.FromContext(ctx)
		p, err := r.store.GetPlaylist(ctx, chi.URLParam(req, "playlistID"))
		if err != nil {
			writeError(w, err)
			return
		}
		ok, err := r.workflow.CanView(ctx, p, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(ctx, playlistKey, p)))
	})
}

func playlistFrom(ctx context.Context) *models.Playlist {
	p, _ := ctx.Value(playlistKey).(*models.Playlist)
	return p
}

func claimsFrom(ctx context.Context) *identity.Claims {
	c, _ := ctx.Value(claimsKey).(*identity.Claims)
	return c
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": r.Rooms()})
}

func (r *Relay) handleChanges(w http.ResponseWriter, req *http.Request) {
	limit := defaultChangeLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, shared.ErrInvalidInput)
			return
		}
		limit = min(n, 500)
	}
	p := playlistFrom(req.Context())
	records, err := r.workflow.RecentChanges(req.Context(), p.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Relay) handleCollaborators(w http.ResponseWriter, req *http.Request) {
	p := playlistFrom(req.Context())
	collabs, err := r.store.ListCollaborators(req.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if collabs == nil {
		collabs = []models.Collaborator{}
	}
	writeJSON(w, http.StatusOK, collabs)
}

// handleSocket upgrades the request and joins the playlist's room.
func (r *Relay) handleSocket(w http.ResponseWriter, req *http.Request) {
	p := playlistFrom(req.Context())
	userID, _ := identity.FromContext(req.Context())
	name := userID
	if c := claimsFrom(req.Context()); c != nil && c.DisplayName != "" {
		name = c.DisplayName
	}

	hub, err := r.acquire(p.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.release(p.ID)
		r.logger.Warn("upgrade failed", "playlist", p.ID, "err", err)
		return
	}

	client := newClient(hub, conn, userID, name, r.inbound)
	if !hub.Register(client) {
		_ = conn.Close()
		r.release(p.ID)
		return
	}
	r.logger.Info("socket joined", "playlist", p.ID, "user", userID)

	go client.writePump()
	go client.readPump(func() {
		r.goodbye(client)
		r.release(p.ID)
		r.logger.Info("socket left", "playlist", p.ID, "user", userID)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
