package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
)

// Registry holds the live adapter instances, keyed by "{type}:{id}".
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func key(channelType, channelID string) string {
	return channelType + ":" + channelID
}

// Register adds an adapter; a second adapter with the same type and id
// replaces the first.
func (r *Registry) Register(a Adapter) {
	k := key(a.Type(), a.ID())
	r.mu.Lock()
	if _, exists := r.adapters[k]; !exists {
		r.order = append(r.order, k)
	}
	r.adapters[k] = a
	r.mu.Unlock()
}

// Get resolves an adapter instance. GW-CHAN-001 when unknown.
func (r *Registry) Get(channelType, channelID string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[key(channelType, channelID)]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.New(errdefs.CodeChannelNotFound, key(channelType, channelID))
	}
	return a, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.adapters[k])
	}
	return out
}

// ConnectAll starts every adapter; failures are logged and skipped so one
// bad channel does not block the rest.
func (r *Registry) ConnectAll(ctx context.Context) {
	for _, a := range r.All() {
		if err := a.Connect(ctx); err != nil {
			slog.Error("channel connect failed", "channel", key(a.Type(), a.ID()), "error", err)
			continue
		}
		slog.Info("channel connected", "channel", key(a.Type(), a.ID()))
	}
}

// DisconnectAll stops every adapter.
func (r *Registry) DisconnectAll(ctx context.Context) {
	for _, a := range r.All() {
		if err := a.Disconnect(ctx); err != nil {
			slog.Warn("channel disconnect failed", "channel", key(a.Type(), a.ID()), "error", err)
		}
	}
}

// Send resolves the adapter and delivers the reply, mapping transport
// failures onto the channel error codes.
func (r *Registry) Send(ctx context.Context, channelType, channelID, chatID string, reply Reply) error {
	a, err := r.Get(channelType, channelID)
	if err != nil {
		return err
	}
	if !a.IsConnected() {
		return errdefs.New(errdefs.CodeChannelNotConnected, key(channelType, channelID))
	}
	if err := a.Send(ctx, chatID, reply); err != nil {
		return errdefs.Wrap(errdefs.CodeChannelSendFailed, err)
	}
	return nil
}
