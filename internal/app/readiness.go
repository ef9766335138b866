package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// ReadinessChecker probes one backing service.
type ReadinessChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// readinessHandler runs every checker concurrently and reports 503 when any fails.
func readinessHandler(logger *slog.Logger, checkers []ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make([]string, len(checkers))
		var g errgroup.Group
		for i, c := range checkers {
			g.Go(func() error {
				if err := c.Check(ctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		err := g.Wait()

		status := make(map[string]string, len(checkers))
		for i, c := range checkers {
			status[c.Name] = results[i]
		}
		if err != nil {
			logger.Warn("readiness check failed", slog.Any("error", err))
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": status})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": status})
	}
}
