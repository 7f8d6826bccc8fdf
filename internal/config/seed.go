package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/faucetdb/reservoir/internal/model"
)

// ToModel converts a YAML connection into a model.Connection, reading the
// tunnel's private key file if one is named.
func (c ConnectionYAML) ToModel() (*model.Connection, error) {
	conn := &model.Connection{
		Name:           c.Name,
		OrganizationID: c.OrganizationID,
		Driver:         c.Driver,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		Username:       c.Username,
		Password:       c.Password,
		Params:         c.Params,
		DSN:            c.DSN,
		SyncSchedule:   c.SyncSchedule,
		Pool:           model.DefaultPoolConfig(),
	}

	loc := model.StorageExternal
	if c.StorageLocation != "" {
		var err error
		if loc, err = model.ParseStorageLocation(c.StorageLocation); err != nil {
			return nil, fmt.Errorf("connection %q: %w", c.Name, err)
		}
	}
	conn.StorageLocation = loc

	if c.Pool != nil {
		pool, err := c.Pool.toModel(conn.Pool)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", c.Name, err)
		}
		conn.Pool = pool
	}

	if t := c.SSHTunnel; t != nil {
		tunnel := &model.SSHTunnel{
			Host:       t.Host,
			Port:       t.Port,
			User:       t.User,
			Password:   t.Password,
			Passphrase: t.Passphrase,
			HostKey:    t.HostKey,
		}
		if t.PrivateKeyFile != "" {
			key, err := os.ReadFile(t.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("connection %q: read ssh key: %w", c.Name, err)
			}
			tunnel.PrivateKey = string(key)
		}
		conn.SSHTunnel = tunnel
	}
	return conn, nil
}

func (p PoolYAMLConfig) toModel(def model.PoolConfig) (model.PoolConfig, error) {
	out := def
	if p.MaxOpenConns > 0 {
		out.MaxOpenConns = p.MaxOpenConns
	}
	if p.MaxIdleConns > 0 {
		out.MaxIdleConns = p.MaxIdleConns
	}
	d, err := ParseDuration(p.ConnMaxLifetime, def.ConnMaxLifetime)
	if err != nil {
		return def, err
	}
	out.ConnMaxLifetime = d
	return out, nil
}

// TargetPool returns the pool settings for the target store.
func (t TargetConfig) TargetPool() (model.PoolConfig, error) {
	def := model.PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if t.Pool == nil {
		return def, nil
	}
	return t.Pool.toModel(def)
}

// Seed creates the connections and tenants declared in cfg that are not in
// the store yet. Existing entries are left alone.
func Seed(ctx context.Context, s *Store, cfg *YAMLConfig, logger *slog.Logger) error {
	for _, cy := range cfg.Connections {
		_, err := s.GetConnectionByName(ctx, cy.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		conn, err := cy.ToModel()
		if err != nil {
			return err
		}
		if err := s.CreateConnection(ctx, conn); err != nil {
			return fmt.Errorf("seed connection %q: %w", cy.Name, err)
		}
		logger.Info("seeded connection", "name", conn.Name, "id", conn.ID, "storage_location", conn.StorageLocation)
	}

	for _, ty := range cfg.Tenants {
		_, err := s.TenantRoleName(ctx, ty.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.CreateTenant(ctx, &model.Tenant{ID: ty.ID, RoleName: ty.RoleName}); err != nil {
			return fmt.Errorf("seed tenant %q: %w", ty.ID, err)
		}
		logger.Info("seeded tenant", "id", ty.ID, "role", ty.RoleName)
	}
	return nil
}
