package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"castbot/internal/campaign"
	logx "castbot/pkg/logx"
)

// Handler builds the router for cfg. It does not need a running server.
func (s *Server) Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearer(cfg.Token))

		r.Get("/campaigns", s.handleList)
		r.Route("/campaigns/{code}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/stats", s.handleStats)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
		})
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type campaignView struct {
	Code            string                        `json:"code"`
	Messages        int                           `json:"messages"`
	Chats           int                           `json:"chats"`
	IntervalSeconds int                           `json:"intervalSeconds"`
	Running         bool                          `json:"running"`
	Active          bool                          `json:"active"`
	Destinations    []campaign.Destination        `json:"destinations,omitempty"`
	MessageTexts    []string                      `json:"messageTexts,omitempty"`
	DeliveryLog     map[string][]campaign.Outcome `json:"deliveryLog,omitempty"`
}

func (s *Server) view(c campaign.Campaign, full bool) campaignView {
	v := campaignView{
		Code:            c.Code,
		Messages:        len(c.Messages),
		Chats:           len(c.Chats),
		IntervalSeconds: c.IntervalSeconds,
		Running:         c.Running,
	}
	if s.active != nil {
		v.Active = s.active(c.Code)
	}
	if full {
		v.Destinations = c.Chats
		v.MessageTexts = c.Messages
		v.DeliveryLog = c.DeliveryLog
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	all := s.back.List()
	running, active := 0, 0
	for _, c := range all {
		if c.Running {
			running++
		}
		if s.active != nil && s.active(c.Code) {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"campaigns": len(all),
		"running":   running,
		"active":    active,
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	all := s.back.List()
	out := make([]campaignView, 0, len(all))
	for _, c := range all {
		out = append(out, s.view(c, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.back.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c, true))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.back.Stats(chi.URLParam(r, "code"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if st == nil {
		st = []campaign.Stat{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.back.Start(r.Context(), code); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"code": code, "running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := s.back.Get(code); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.back.Stop(r.Context(), code); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "running": false})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("rid", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

// bearer accepts "Authorization: Bearer <token>". An empty token disables
// the check.
func bearer(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if !strings.HasPrefix(ah, p) || strings.TrimSpace(strings.TrimPrefix(ah, p)) != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, campaign.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
