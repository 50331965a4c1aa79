package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"confvideo/internal/core/ports"
	"confvideo/pkg/circuitbreaker"
)

// AddDirectoryCheck fails when the participant directory cannot be listed.
func (h *HealthChecker) AddDirectoryCheck(directory ports.ParticipantDirectory, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "directory",
		Check: func(ctx context.Context) error {
			_, err := directory.List(ctx)
			return err
		},
		Interval: interval,
		Timeout:  timeout,
		Critical: true,
	})
}

// AddBackendCheck wraps a ping-style check such as the repository
// factory's.
func (h *HealthChecker) AddBackendCheck(name string, ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name:     name,
		Check:    ping,
		Interval: interval,
		Timeout:  timeout,
		Critical: true,
	})
}

// AddBreakerCheck reports media servers whose circuit is open. It never makes
// the service unready: sessions for other servers still work.
func (h *HealthChecker) AddBreakerCheck(states func() map[string]circuitbreaker.State) {
	h.AddCheck(HealthCheck{
		Name: "media_servers",
		Check: func(context.Context) error {
			var open []string
			for server, state := range states() {
				if state == circuitbreaker.StateOpen {
					open = append(open, server)
				}
			}
			if len(open) == 0 {
				return nil
			}
			sort.Strings(open)
			return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
		},
	})
}
