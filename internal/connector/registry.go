package connector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Key is the registry name of a stored connection.
func Key(connectionID int64) string {
	return "conn-" + strconv.FormatInt(connectionID, 10)
}

// Factory is a function that creates a new Connector instance.
type Factory func() Connector

// Registry manages connector factories and live connections, keyed by a
// caller chosen name (usually the connection id).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Connector
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Connect creates a new connector for the given driver and connects it,
// replacing any existing connection under the same name.
func (r *Registry) Connect(ctx context.Context, name string, cfg ConnectionConfig) (Connector, error) {
	conn, err := r.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[name]; ok {
		existing.Disconnect()
	}
	r.active[name] = conn
	return conn, nil
}

// Open creates and connects a connector that the registry does not track.
// The caller owns it and must Disconnect it.
func (r *Registry) Open(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.availableDrivers())
	}

	conn := factory()
	if err := conn.Connect(ctx, cfg); err != nil {
		return nil, err
	}
	return conn, nil
}

// GetOrConnect returns the live connector for name, connecting it with cfg
// on first use.
func (r *Registry) GetOrConnect(ctx context.Context, name string, cfg ConnectionConfig) (Connector, error) {
	if conn, err := r.Get(name); err == nil {
		return conn, nil
	}
	return r.Connect(ctx, name, cfg)
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("connection %q not open", name)
	}
	return conn, nil
}

// Disconnect removes and disconnects a connection.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[name]
	if !ok {
		return fmt.Errorf("connection %q not open", name)
	}

	err := conn.Disconnect()
	delete(r.active, name)
	return err
}

// CloseAll disconnects everything.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, conn := range r.active {
		conn.Disconnect()
		delete(r.active, name)
	}
}

// List returns the names of open connections.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	return names
}

func (r *Registry) availableDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	return drivers
}
