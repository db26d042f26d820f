package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// ReadyCheck is a named dependency check for /readyz. A zero Timeout uses two seconds.
type ReadyCheck struct {
	Name    string
	Check   func(context.Context) error
	Timeout time.Duration
}

func (c ReadyCheck) run(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Check(ctx)
}

// NewBaseMuxWithReady returns a mux serving /healthz (always ok) and /readyz,
// which fails with 503 and a "name: err" list when any check fails.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writePlain(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		var failures []string
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			if err := check.run(r.Context()); err != nil {
				name := check.Name
				if name == "" {
					name = "dependency"
				}
				failures = append(failures, name+": "+err.Error())
			}
		}
		if len(failures) > 0 {
			writePlain(w, http.StatusServiceUnavailable, strings.Join(failures, "; "))
			return
		}
		writePlain(w, http.StatusOK, "ok")
	})
	return mux
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
