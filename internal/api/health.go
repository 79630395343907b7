// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status        string            `json:"status"`
	ActiveStreams int               `json:"active_streams"`
	Capacity      int               `json:"capacity"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every registered check in parallel. Any failure turns
// the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			if err := check(ctx); err != nil {
				results[i] = err.Error()
				return
			}
			results[i] = "ok"
		}(i, s.checks[name])
	}
	wg.Wait()

	resp := healthResponse{
		Status:        "ok",
		ActiveStreams: s.svc.ActiveSessions(),
		Capacity:      s.svc.Capacity(),
	}
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	status := http.StatusOK
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i] != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
