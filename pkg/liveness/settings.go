package liveness

import (
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/config"
)

// FromConfig builds a session configuration from the deployment
// settings, falling back to defaults for anything unset.
func FromConfig(c config.LivenessConfig) Config {
	cfg := DefaultConfig()
	if c.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	if c.Policy != "" {
		cfg.Policy = Policy(c.Policy)
	}
	cfg.EnableTexture = c.EnableTexture
	cfg.EnableBlink = c.EnableBlink
	cfg.EnableMovement = c.EnableMovement
	cfg.EnableFocus = c.EnableFocus
	if c.RequiredBlinks > 0 {
		cfg.RequiredBlinks = c.RequiredBlinks
	}
	if c.TextureQuorum > 0 {
		cfg.TextureQuorum = c.TextureQuorum
	}
	if c.EARFloor > 0 {
		cfg.EARFloor = c.EARFloor
	}
	return cfg
}
