package commands

import (
	"context"
	"sync"
)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	proxies  *ProxyChain
}

func NewBus(proxies ...Proxy) *Bus {
	return &Bus{handlers: make(map[string]Handler), proxies: NewProxyChain(proxies...)}
}

func (b *Bus) Register(commandType string, handler Handler) {
	b.mu.Lock()
	b.handlers[commandType] = handler
	b.mu.Unlock()
}

// Execute validates cmd, runs it past every proxy, then dispatches it.
func (b *Bus) Execute(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandType()]
	b.mu.RUnlock()
	if !ok {
		return Result{}, ErrHandlerNotFound
	}
	if err := b.proxies.Authorize(ctx, cmd); err != nil {
		return Result{}, err
	}
	return h.Handle(ctx, cmd)
}
