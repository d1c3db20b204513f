package deviceproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Channel moves envelopes to an on-site agent and carries responses back.
// The websocket client implements it; tests inject their own.
type Channel interface {
	Send(ctx context.Context, env command.Envelope) error
	Responses() <-chan command.Response
	Close() error
}

// TenantFunc resolves the tenant for the current call. The proxy stamps
// every envelope with it so agents never trust a caller-supplied tenant.
type TenantFunc func(ctx context.Context) (uuid.UUID, error)

const defaultCommandTimeout = 120 * time.Second

// Proxy issues device commands over a Channel and correlates responses by
// CommandID. Safe for concurrent use.
type Proxy struct {
	logger  *slog.Logger
	channel Channel
	tenant  TenantFunc
	timeout time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]chan command.Response
	closed  bool
	done    chan struct{}
}

func New(logger *slog.Logger, channel Channel, tenant TenantFunc) *Proxy {
	p := &Proxy{
		logger:  logger.With(slog.String("component", "deviceproxy")),
		channel: channel,
		tenant:  tenant,
		timeout: defaultCommandTimeout,
		pending: make(map[uuid.UUID]chan command.Response),
		done:    make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// SetTimeout overrides the default per-command timeout.
func (p *Proxy) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// dispatch pumps channel responses into the pending waiters. Responses
// nobody is waiting for are logged and dropped.
func (p *Proxy) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case resp, ok := <-p.channel.Responses():
			if !ok {
				p.failAll()
				return
			}
			p.mu.Lock()
			waiter, found := p.pending[resp.CommandID]
			if found {
				delete(p.pending, resp.CommandID)
			}
			p.mu.Unlock()
			if !found {
				p.logger.Warn("response without a waiting command",
					slog.String("command_id", resp.CommandID.String()))
				continue
			}
			waiter <- resp
		}
	}
}

// failAll releases every waiter with an offline response after the channel
// shuts down under them.
func (p *Proxy) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, waiter := range p.pending {
		waiter <- command.Failed(id, terminal.ErrCodeDeviceOffline, "device channel closed")
		delete(p.pending, id)
	}
}

// Execute stamps the tenant onto the envelope, ships it, and blocks for the
// matching response. Channel failures and timeouts come back as failed
// responses, never as errors: the only error cases are tenant resolution
// and a cancelled context.
func (p *Proxy) Execute(ctx context.Context, env command.Envelope) (command.Response, error) {
	tenantID, err := p.tenant(ctx)
	if err != nil {
		return command.Response{}, fmt.Errorf("resolving tenant: %w", err)
	}
	env.TenantID = tenantID

	timeout := env.Timeout
	if timeout <= 0 {
		timeout = p.timeout
		env.Timeout = timeout
	}

	waiter := make(chan command.Response, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline, "device channel closed"), nil
	}
	p.pending[env.CommandID] = waiter
	p.mu.Unlock()

	if err := p.channel.Send(ctx, env); err != nil {
		p.forget(env.CommandID)
		p.logger.Error("sending command to agent",
			slog.String("command_id", env.CommandID.String()),
			slog.String("type", env.Type),
			slog.String("error", err.Error()))
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline,
			fmt.Sprintf("device unreachable: %v", err)), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		p.forget(env.CommandID)
		return command.Failed(env.CommandID, terminal.ErrCodeTimeout,
			fmt.Sprintf("device did not respond within %s", timeout)), nil
	case <-ctx.Done():
		p.forget(env.CommandID)
		return command.Response{}, ctx.Err()
	}
}

func (p *Proxy) forget(id uuid.UUID) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Close stops the dispatcher and fails outstanding waiters.
func (p *Proxy) Close() error {
	close(p.done)
	p.failAll()
	return p.channel.Close()
}
