package util

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown manages graceful shutdown of multiple resources
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource represents a resource that needs graceful shutdown
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // Lower numbers shut down first
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GracefulShutdown{
		resources: make([]ShutdownResource, 0),
		logger:    logger,
		timeout:   timeout,
	}
}

// Register adds a resource to be shut down
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterCloser registers an io.Closer for shutdown
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(ctx context.Context) error {
			return closer.Close()
		},
	})
}

// Shutdown performs graceful shutdown of all registered resources in priority order
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var errs []error
	for _, resource := range resources {
		done := make(chan error, 1)
		go func(res ShutdownResource) {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic during shutdown of %s: %v", res.Name, r)
				}
			}()
			done <- res.Shutdown(shutdownCtx)
		}(resource)

		select {
		case err := <-done:
			if err != nil {
				gs.logger.WithError(err).WithField("resource", resource.Name).Error("Error shutting down resource")
				errs = append(errs, fmt.Errorf("shutdown error for %s: %w", resource.Name, err))
			} else {
				gs.logger.WithField("resource", resource.Name).Debug("Resource shut down successfully")
			}
		case <-shutdownCtx.Done():
			gs.logger.WithField("resource", resource.Name).Warn("Shutdown timeout for resource")
			errs = append(errs, fmt.Errorf("shutdown timeout for %s", resource.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("graceful shutdown finished with %d errors: %v", len(errs), errs)
	}

	gs.logger.Info("Graceful shutdown completed successfully")
	return nil
}
