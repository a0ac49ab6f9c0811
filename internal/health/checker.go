// Package health drives the standard gRPC health service from dependency pings.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultInterval is how often Run re-checks dependencies.
const DefaultInterval = 10 * time.Second

const pingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable (e.g. *sql.DB, ephemeral backends).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker pings every dependency and publishes the overall status for the empty service name.
type Checker struct {
	server  *grpchealth.Server
	pingers map[string]Pinger
}

// NewChecker returns a Checker publishing to server. Nil pingers are ignored.
func NewChecker(server *grpchealth.Server, pingers map[string]Pinger) *Checker {
	ps := make(map[string]Pinger, len(pingers))
	for name, p := range pingers {
		if p != nil {
			ps[name] = p
		}
	}
	return &Checker{server: server, pingers: ps}
}

// Check pings all dependencies in name order and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.pingers[name].PingContext(pctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Update runs Check once and sets SERVING or NOT_SERVING.
func (c *Checker) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		log.Printf("health: not serving: %v", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", status)
	return status
}

// Run updates the status every interval until ctx is done, then marks the server as shutting down.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.Update(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-ticker.C:
			c.Update(ctx)
		}
	}
}
