package config

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/model"
)

// Validate checks the settings required by the given command mode:
// "migrate", "validate", or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "migrate":
	case "validate":
		if err := c.Validation.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if err := c.Validation.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	names := make([]string, 0, len(c.Sources.Weights))
	for name := range c.Sources.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if w := c.Sources.Weights[name]; w < 0 || w > 1 {
			errs = append(errs, "sources.weights."+name+" must be in [0,1]")
		}
	}

	if len(errs) > 0 {
		return model.NewEngineError(model.ErrorCategoryConfiguration,
			eris.Errorf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}
