package topology

import (
	"errors"
	"fmt"
	"time"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/monitor"
)

// Config describes the deployment to discover. Zero durations take the
// monitor defaults.
type Config struct {
	Seeds          []address.Address
	ReplicaSetName string

	// Direct forces a single-server topology. When nil it is implied by a
	// single seed without a replica set name.
	Direct *bool

	HeartbeatInterval    time.Duration
	MinHeartbeatInterval time.Duration
	ConnectTimeout       time.Duration
}

func (c Config) direct() bool {
	if c.Direct != nil {
		return *c.Direct
	}
	return len(c.Seeds) == 1 && c.ReplicaSetName == ""
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = monitor.DefaultHeartbeatInterval
	}
	if c.MinHeartbeatInterval <= 0 {
		c.MinHeartbeatInterval = monitor.DefaultMinHeartbeatInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = monitor.DefaultConnectTimeout
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if len(c.Seeds) == 0 {
		return errors.New("topology: no seed addresses")
	}
	for _, a := range c.Seeds {
		if a.IsZero() {
			return fmt.Errorf("topology: %w: empty seed", address.ErrInvalidAddress)
		}
	}
	if c.Direct != nil && *c.Direct && len(c.Seeds) > 1 {
		return fmt.Errorf("topology: direct connection needs exactly one seed, got %d", len(c.Seeds))
	}
	if c.MinHeartbeatInterval > c.HeartbeatInterval {
		return fmt.Errorf("topology: min heartbeat interval %s is longer than heartbeat interval %s",
			c.MinHeartbeatInterval, c.HeartbeatInterval)
	}
	if c.ConnectTimeout >= c.HeartbeatInterval {
		return fmt.Errorf("topology: connect timeout %s must be shorter than heartbeat interval %s",
			c.ConnectTimeout, c.HeartbeatInterval)
	}
	return nil
}
