package obs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency the server cannot work without.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandlers serves /livez and /readyz. Readiness runs every check concurrently and
// reports each result by name.
type HealthHandlers struct {
	Checks  []Check
	Timeout time.Duration
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	report, ok := h.Run(c.Request.Context())
	status, code := "ready", http.StatusOK
	if !ok {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": report})
}

// Run executes the checks and returns "ok" or the error text per check name.
func (h HealthHandlers) Run(ctx context.Context) (map[string]string, bool) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = make(map[string]string, len(h.Checks))
		ok     = true
	)
	for _, check := range h.Checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			result := "ok"
			if err := check.Probe(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			if result != "ok" {
				ok = false
			}
			report[check.Name] = result
		}(check)
	}
	wg.Wait()
	return report, ok
}
