package viewwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/viewwatch/visibility"
)

// targetRequest is the JSON body accepted by POST /api/pages/{pageID}/targets
// and the viewwatch_add_target tool.
type targetRequest struct {
	Name       string               `json:"name"`
	Selector   string               `json:"selector"`
	Root       string               `json:"root,omitempty"`
	RootMargin string               `json:"root_margin,omitempty"`
	Threshold  visibility.Threshold `json:"threshold"`
}

func (t targetRequest) config() TargetConfig {
	return TargetConfig{
		Name:       t.Name,
		Selector:   t.Selector,
		Root:       t.Root,
		RootMargin: t.RootMargin,
		Threshold:  t.Threshold,
	}
}

// Handler returns the admin API as a standalone handler.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

// Routes mounts the admin API on r.
func (s *Service) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		for _, mw := range s.apiStack() {
			r.Use(mw)
		}
		s.routes(r)
	})
}

func (s *Service) routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/pages", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, s.Pages())
		})
		r.Get("/{pageID}", func(w http.ResponseWriter, r *http.Request) {
			p, ok := s.Page(chi.URLParam(r, "pageID"))
			if !ok {
				writeError(w, 404, errors.New("page not found"))
				return
			}
			writeJSON(w, 200, p)
		})
		r.Get("/{pageID}/watchers", func(w http.ResponseWriter, r *http.Request) {
			p, ok := s.Page(chi.URLParam(r, "pageID"))
			if !ok {
				writeError(w, 404, errors.New("page not found"))
				return
			}
			writeJSON(w, 200, p.Watchers)
		})
		r.Post("/{pageID}/targets", func(w http.ResponseWriter, r *http.Request) {
			var req targetRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := s.AddTarget(r.Context(), chi.URLParam(r, "pageID"), req.config()); err != nil {
				requestLogger(r.Context(), s.logger).Warn("viewwatch: add target failed", "error", err)
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 201, map[string]string{"status": "bound"})
		})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, s.Stats(r.Context()))
	})

	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		events, err := s.RecentEvents(r.Context(), r.URL.Query().Get("page"), queryInt(r, "limit", 50))
		if err != nil {
			requestLogger(r.Context(), s.logger).Warn("viewwatch: recent events", "error", err)
			writeError(w, 503, err)
			return
		}
		writeJSON(w, 200, events)
	})
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
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
