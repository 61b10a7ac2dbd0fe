package session

import "time"

// Config controls session lifetime and device liveness.
type Config struct {
	TTL            time.Duration
	SweepInterval  time.Duration
	DeviceIdleMax  time.Duration
	ActivityLogCap int
}

func DefaultConfig() Config {
	return Config{
		TTL:            15 * time.Minute,
		SweepInterval:  5 * time.Minute,
		DeviceIdleMax:  10 * time.Second,
		ActivityLogCap: 50,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = defaults.TTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.DeviceIdleMax <= 0 {
		c.DeviceIdleMax = defaults.DeviceIdleMax
	}
	if c.ActivityLogCap <= 0 {
		c.ActivityLogCap = defaults.ActivityLogCap
	}
	return c
}
