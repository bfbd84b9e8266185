package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LockTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.lock_timeout_seconds must be non-negative, got %d", cfg.Server.LockTimeoutSeconds))
	}
	if cfg.Server.MaxGatewayConnections < 0 {
		errs = append(errs, fmt.Errorf("server.max_gateway_connections must be non-negative, got %d", cfg.Server.MaxGatewayConnections))
	}

	if len(cfg.Experiences) == 0 {
		slog.Warn("no experiences configured; the session endpoint will reject every connection with experience-not-found")
	}

	if cfg.EventBus.Addr == "" {
		slog.Warn("event_bus.addr is empty; world updates will not be delivered across sessions")
	}
	if cfg.Audit.PostgresDSN == "" {
		slog.Warn("audit.postgres_dsn is empty; admin @stats/@find will report no history")
	}
	if cfg.ChatService.BaseURL == "" && len(cfg.Experiences) > 0 {
		slog.Warn("chat_service.base_url is empty; the talk handler will always use the canned fallback")
	}
	if cfg.Server.AuthSecret == "" && len(cfg.Experiences) > 0 {
		slog.Warn("server.auth_secret is empty; the session endpoint will reject every connection")
	}

	expNamesSeen := make(map[string]bool, len(cfg.Experiences))
	for id, exp := range cfg.Experiences {
		prefix := fmt.Sprintf("experiences[%s]", id)
		if id == "" {
			errs = append(errs, fmt.Errorf("%s: experience id must not be empty", prefix))
		}
		expNamesSeen[id] = true

		if exp.StateModel != "" && !exp.StateModel.IsValid() {
			errs = append(errs, fmt.Errorf("%s.state_model %q is invalid; valid values: shared, isolated", prefix, exp.StateModel))
		}
		if exp.Bootstrap.StartingLocation == "" {
			errs = append(errs, fmt.Errorf("%s.bootstrap.starting_location is required", prefix))
		}
		if exp.ContentPaths.Root == "" {
			errs = append(errs, fmt.Errorf("%s.content_paths.root is required", prefix))
		}
		if exp.Capabilities.PhaseTwoAOI && exp.Capabilities.GeofenceRadiusM <= 0 {
			errs = append(errs, fmt.Errorf("%s.capabilities.geofence_radius_m must be positive when phase_two_aoi is enabled", prefix))
		}

		geoIDsSeen := make(map[string]int, len(exp.Geographies))
		for i, geo := range exp.Geographies {
			gprefix := fmt.Sprintf("%s.geographies[%d]", prefix, i)
			if geo.ID == "" {
				errs = append(errs, fmt.Errorf("%s.id is required", gprefix))
				continue
			}
			if prev, ok := geoIDsSeen[geo.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of geographies[%d]", gprefix, geo.ID, prev))
			}
			geoIDsSeen[geo.ID] = i
			if geo.ZoneID == "" {
				errs = append(errs, fmt.Errorf("%s.zone_id is required", gprefix))
			}
		}
	}

	return errors.Join(errs...)
}
