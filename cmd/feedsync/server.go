// CLAUDE:SUMMARY serve command: chi JSON API over the feed client with journal pruning, auto refresh and graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedsync/feed"
	"github.com/hazyhaar/feedsync/gate"
	"github.com/hazyhaar/feedsync/kit"
	"github.com/hazyhaar/feedsync/nav"
	"github.com/hazyhaar/feedsync/shield"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the feed state as a JSON API for a rendering layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if n, err := a.journal.Prune(ctx, a.cfg.Store.JournalRetention.Std()); err != nil {
				a.logger.Warn("journal prune", "error", err)
			} else if n > 0 {
				a.logger.Info("journal pruned", "removed", n)
			}

			if _, err := a.client.Start(ctx); err != nil {
				a.logger.Warn("feedsync: startup failed", "error", err)
			}
			if iv := a.cfg.Feed.AutoRefresh.Std(); iv > 0 {
				go a.client.RunAutoRefresh(ctx, iv)
			}

			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           newRouter(a),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("feedsync API starting", "addr", srv.Addr, "session_id", a.sessionID)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the JSON API over one session.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(a.logger) {
		r.Use(mw)
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kit.WithSessionID(kit.WithTransport(r.Context(), "http"), a.sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	limiter := shield.NewLimiter(a.cfg.Server.UnlockAttempts, a.cfg.Server.UnlockWindow.Std())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
			withEpisodes, _ := strconv.ParseBool(r.URL.Query().Get("episodes"))
			writeJSON(w, 200, a.client.View(withEpisodes))
		})

		r.Get("/episodes/{n}", func(w http.ResponseWriter, r *http.Request) {
			n, err := strconv.Atoi(chi.URLParam(r, "n"))
			if err != nil || n <= 0 {
				writeJSON(w, 400, map[string]string{"error": "episode number must be a positive integer"})
				return
			}
			ep, err := a.client.Episode(n)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, ep)
		})

		r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
			if err := a.client.Refresh(r.Context()); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, a.client.View(false))
		})

		// Full reload: the retry offered after a fatal failure.
		r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
			if _, err := a.client.Reload(r.Context()); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, a.client.View(false))
		})

		r.With(limiter.Middleware).Post("/unlock", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Passphrase string `json:"passphrase"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := a.client.Unlock(r.Context(), req.Passphrase); err != nil {
				resp := map[string]any{"error": err.Error()}
				if errors.Is(err, gate.ErrMismatch) {
					resp["overlay"] = a.client.State().Overlay
				}
				writeJSON(w, statusFor(err), resp)
				return
			}
			snap := a.client.State()
			writeJSON(w, 200, map[string]any{"gate": snap.Gate, "status": snap.Status})
		})

		r.Post("/navigate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Page       string `json:"page"`
				UpdateHash bool   `json:"update_hash"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			page, changed := a.client.Navigate(req.Page, req.UpdateHash)
			writeJSON(w, 200, map[string]any{"page": page, "changed": changed, "location": a.loc.String()})
		})

		r.Post("/route", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Location string `json:"location"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			page, err := a.client.Route(req.Location)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, map[string]any{"page": page, "sort": a.nav.Sort()})
		})

		r.Post("/rendered/{page}", func(w http.ResponseWriter, r *http.Request) {
			page := nav.Page(chi.URLParam(r, "page"))
			if !nav.Valid(page) {
				writeJSON(w, 404, map[string]string{"error": "unknown page"})
				return
			}
			a.client.Rendered(string(page))
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			recs, err := a.journal.Recent(r.Context(), queryInt(r, "limit", 50), r.URL.Query().Get("name"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, recs)
		})

		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, map[string]any{
				"cache":        a.client.CacheStats(),
				"store":        a.store.Stats(),
				"auto_refresh": a.client.AutoRefreshStats(),
			})
		})
	})

	return r
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fatal *feed.FatalError
	switch {
	case errors.Is(err, feed.ErrEpisodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrNotLoaded), errors.Is(err, gate.ErrNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, feed.ErrGateLocked):
		return http.StatusForbidden
	case errors.Is(err, gate.ErrMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, gate.ErrEmptyPassphrase), errors.Is(err, gate.ErrSecureContextRequired):
		return http.StatusBadRequest
	case errors.As(err, &fatal):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
