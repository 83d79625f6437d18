// Package plugins connects external MCP tool servers and exposes their
// tools through the tool registry alongside the builtins.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weft-run/weft/internal/tools"
	"github.com/weft-run/weft/pkg/schema"
)

// Manager owns the lifecycle of all connected tool providers.
type Manager struct {
	logger *slog.Logger
	dial   func(ctx context.Context, cfg ProviderConfig) (conn, []mcp.Tool, error)

	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewManager creates a Manager with no providers connected.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		dial:      stdioDial,
		providers: make(map[string]*Provider),
	}
}

// Connect launches a provider subprocess, discovers its tools, and
// registers them into reg as "<provider>.<tool>". The connection is
// health-checked in the background for as long as ctx lives.
func (m *Manager) Connect(ctx context.Context, cfg ProviderConfig, reg *tools.Registry) error {
	if cfg.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "provider name is required")
	}
	if cfg.Command == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "provider %q has no command", cfg.Name)
	}

	m.mu.RLock()
	_, exists := m.providers[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "provider %q is already connected", cfg.Name)
	}

	c, listed, err := m.dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect provider %q: %w", cfg.Name, err)
	}

	p := &Provider{config: cfg, conn: c, status: statusHealthy}
	remote := p.buildTools(listed)

	// Check all names up front so a collision registers nothing.
	for _, t := range remote {
		if reg.Has(t.Name()) {
			_ = c.Close()
			return schema.NewErrorf(schema.ErrCodeConflict,
				"provider %q: tool %q is already registered", cfg.Name, t.Name())
		}
	}
	for _, t := range remote {
		if err := reg.Register(t); err != nil {
			_ = c.Close()
			return fmt.Errorf("register tools for provider %q: %w", cfg.Name, err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.stop = cancel

	m.mu.Lock()
	m.providers[cfg.Name] = p
	m.mu.Unlock()

	go m.watch(watchCtx, p)

	m.logger.Info("provider connected",
		slog.String("provider", cfg.Name),
		slog.Int("tools", len(remote)),
	)
	return nil
}

// Disconnect stops a provider subprocess. Its registered tools stay
// listed but fail until the provider connects again under the same name.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	p, ok := m.providers[name]
	if !ok {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "provider %q not found", name)
	}
	delete(m.providers, name)
	m.mu.Unlock()

	err := p.close()
	m.logger.Info("provider disconnected", slog.String("provider", name))
	return err
}

// Close stops every connected provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	providers := m.providers
	m.providers = make(map[string]*Provider)
	m.mu.Unlock()

	var errs []error
	for name, p := range providers {
		if err := p.close(); err != nil {
			errs = append(errs, fmt.Errorf("stop provider %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the current status of every provider by name.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.providers))
	for name, p := range m.providers {
		out[name] = p.state()
	}
	return out
}

// watch pings the provider on an interval. After maxPingFailures
// consecutive failures it reconnects with exponential backoff.
func (m *Manager) watch(ctx context.Context, p *Provider) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.ping(ctx)
			if err == nil {
				p.mu.Lock()
				p.errCount = 0
				p.status = statusHealthy
				p.mu.Unlock()
				continue
			}

			p.mu.Lock()
			p.errCount++
			p.lastErr = err.Error()
			failures := p.errCount
			if failures >= maxPingFailures {
				p.status = statusUnhealthy
			}
			p.mu.Unlock()

			if failures >= maxPingFailures {
				m.logger.Warn("provider unhealthy",
					slog.String("provider", p.config.Name),
					slog.Int("consecutive_errors", failures),
					slog.String("error", err.Error()),
				)
				m.reconnect(ctx, p)
			}
		}
	}
}

// reconnect re-dials the provider until it succeeds or ctx ends. The new
// connection is swapped in place, so registered tools keep working.
func (m *Manager) reconnect(ctx context.Context, p *Provider) {
	for attempt := 0; ; attempt++ {
		// min(1s * 2^attempt, 60s)
		delay := time.Duration(math.Min(
			float64(time.Second)*math.Pow(2, float64(attempt)),
			float64(60*time.Second),
		))
		m.logger.Info("reconnecting provider",
			slog.String("provider", p.config.Name),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c, _, err := m.dial(ctx, p.config)
		if err != nil {
			m.logger.Warn("provider reconnect failed",
				slog.String("provider", p.config.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.mu.Lock()
		old := p.conn
		p.conn = c
		p.status = statusHealthy
		p.errCount = 0
		p.lastErr = ""
		p.mu.Unlock()

		if old != nil {
			_ = old.Close()
		}
		m.logger.Info("provider reconnected", slog.String("provider", p.config.Name))
		return
	}
}
