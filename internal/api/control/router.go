// Package control exposes the local HTTP API that drives the voice
// session: start, stop, status, conversation history, and a websocket feed
// of live session events for UIs.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mylee04/voicepilot/internal/session"
)

// Session is the slice of the controller the API drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() session.Snapshot
	History() *session.History
}

// NewRouter constructs the control API router.
func NewRouter(sess Session, feed *Feed) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/start", startHandler(sess))
		r.Post("/stop", stopHandler(sess))
		r.Get("/status", statusHandler(sess))
		r.Get("/history", historyHandler(sess))
	})

	if feed != nil {
		r.Get("/v1/events", feed.ServeHTTP)
	}

	return r
}

func startHandler(sess Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Start(r.Context()); err != nil {
			switch {
			case errors.Is(err, session.ErrAlreadyRunning):
				writeError(w, http.StatusConflict, err)
			default:
				// Microphone or backend acquisition failed; nothing was
				// left half-started.
				writeError(w, http.StatusServiceUnavailable, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func stopHandler(sess Session) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sess.Stop()
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func statusHandler(sess Session) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func historyHandler(sess Session) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"turns": sess.History().Turns(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
