package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Stopper is the service a ShutdownHandler stops after its hooks ran
type Stopper interface {
	Stop(ctx context.Context) error
}

// ShutdownHandler manages graceful shutdown of the plansync service
type ShutdownHandler struct {
	service         Stopper
	logger          *logrus.Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
	hooks           []ShutdownHook
	mu              sync.RWMutex
	isShuttingDown  bool
}

// ShutdownHook represents a function to call during shutdown
type ShutdownHook struct {
	Name     string
	Priority int // Lower numbers execute first
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// ShutdownHandlerOptions configures the shutdown handler
type ShutdownHandlerOptions struct {
	Service         Stopper
	Logger          *logrus.Logger
	ShutdownTimeout time.Duration
	Signals         []os.Signal
}

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultHookTimeout     = 10 * time.Second
)

// NewShutdownHandler creates a new shutdown handler
func NewShutdownHandler(opts ShutdownHandlerOptions) *ShutdownHandler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Signals == nil {
		opts.Signals = []os.Signal{
			syscall.SIGINT,  // Ctrl+C
			syscall.SIGTERM, // Termination signal
			syscall.SIGQUIT, // Quit signal
		}
	}

	return &ShutdownHandler{
		service:         opts.Service,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
		signals:         opts.Signals,
	}
}

// AddHook registers a hook; hooks with equal priority keep insertion order
func (sh *ShutdownHandler) AddHook(hook ShutdownHook) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if hook.Timeout <= 0 {
		hook.Timeout = defaultHookTimeout
	}
	sh.hooks = append(sh.hooks, hook)
	sort.SliceStable(sh.hooks, func(i, j int) bool {
		return sh.hooks[i].Priority < sh.hooks[j].Priority
	})

	sh.logger.WithFields(logrus.Fields{
		"hook":     hook.Name,
		"priority": hook.Priority,
		"timeout":  hook.Timeout,
	}).Debug("Added shutdown hook")
}

// Hooks returns a copy of the registered hooks in execution order
func (sh *ShutdownHandler) Hooks() []ShutdownHook {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	hooks := make([]ShutdownHook, len(sh.hooks))
	copy(hooks, sh.hooks)
	return hooks
}

// Wait blocks until a shutdown signal arrives or ctx is done, then shuts down
func (sh *ShutdownHandler) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sh.signals...)
	defer signal.Stop(sigChan)

	sh.logger.WithField("signals", sh.signals).Info("Waiting for shutdown signal")

	select {
	case sig := <-sigChan:
		sh.logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		sh.logger.WithError(ctx.Err()).Info("Shutdown requested")
	}
	return sh.Shutdown()
}

// Shutdown runs every hook, then stops the service
func (sh *ShutdownHandler) Shutdown() error {
	sh.mu.Lock()
	if sh.isShuttingDown {
		sh.mu.Unlock()
		return fmt.Errorf("shutdown already in progress")
	}
	sh.isShuttingDown = true
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), sh.shutdownTimeout)
	defer cancel()

	var shutdownError error
	if err := sh.executeHooks(ctx); err != nil {
		sh.logger.WithError(err).Error("Some shutdown hooks failed")
		shutdownError = err
	}

	if sh.service != nil {
		if err := sh.service.Stop(ctx); err != nil {
			sh.logger.WithError(err).Error("Failed to stop service")
			shutdownError = errors.Join(shutdownError, err)
		}
	}

	duration := time.Since(startTime)
	if shutdownError == nil {
		sh.logger.WithField("duration", duration).Info("Graceful shutdown completed successfully")
	} else {
		sh.logger.WithFields(logrus.Fields{
			"duration": duration,
			"error":    shutdownError,
		}).Error("Graceful shutdown completed with errors")
	}
	return shutdownError
}

// executeHooks runs hooks in priority order; a failing hook does not stop the rest
func (sh *ShutdownHandler) executeHooks(ctx context.Context) error {
	hooks := sh.Hooks()
	if len(hooks) == 0 {
		sh.logger.Debug("No shutdown hooks to execute")
		return nil
	}

	sh.logger.WithField("count", len(hooks)).Info("Executing shutdown hooks")

	var errs []error
	for _, hook := range hooks {
		hookCtx, hookCancel := context.WithTimeout(ctx, hook.Timeout)
		hookStart := time.Now()
		err := hook.Fn(hookCtx)
		hookCancel()

		fields := logrus.Fields{
			"hook":     hook.Name,
			"duration": time.Since(hookStart),
		}
		if err != nil {
			sh.logger.WithFields(fields).WithError(err).Error("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s failed: %w", hook.Name, err))
			continue
		}
		sh.logger.WithFields(fields).Debug("Shutdown hook completed successfully")
	}
	return errors.Join(errs...)
}

// IsShuttingDown returns true if shutdown is in progress
func (sh *ShutdownHandler) IsShuttingDown() bool {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.isShuttingDown
}
