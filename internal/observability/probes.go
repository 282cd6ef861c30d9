package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

// ReadinessResponse is the body of the readiness probe.
type ReadinessResponse struct {
	Ready      bool              `json:"ready"`
	Components map[string]string `json:"components"`
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the configured timeout and
// answers 503 if any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	resp := s.probe(ctx)

	if resp.Ready {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

func (s *Server) probe(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{Ready: true, Components: make(map[string]string, len(s.checkers))}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range s.checkers {
		wg.Go(func() {
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				resp.Components[c.Name()] = fmt.Sprintf("down: %v", err)
				resp.Ready = false
				return
			}
			resp.Components[c.Name()] = "up"
		})
	}
	wg.Wait()

	return resp
}
