package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// ReadyCheck is a named dependency check for /readyz. A nil Check is skipped.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMux returns a mux with /healthz (liveness) and /readyz. Readiness runs all checks
// concurrently and answers 503 with the failing ones when any fails.
func NewBaseMux(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, readiness{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		failed := runChecks(r.Context(), checks)
		if len(failed) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, readiness{Status: "unavailable", Failed: failed})
			return
		}
		writeStatus(w, http.StatusOK, readiness{Status: "ok"})
	})
	return mux
}

type readiness struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

func runChecks(ctx context.Context, checks []ReadyCheck) map[string]string {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed map[string]string
	)
	for i, c := range checks {
		if c.Check == nil {
			continue
		}
		name := c.Name
		if name == "" {
			name = "check_" + strconv.Itoa(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := c.Check(checkCtx); err != nil {
				mu.Lock()
				if failed == nil {
					failed = map[string]string{}
				}
				failed[name] = err.Error()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failed
}

func writeStatus(w http.ResponseWriter, status int, body readiness) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
