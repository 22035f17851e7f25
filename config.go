package scm

import (
	"fmt"
	"strings"
)

// ServiceConfig is the persisted configuration of a service registration.
// It is written via create/update and read back via query; the registry
// persists it externally. Dependency order is preserved.
type ServiceConfig struct {
	// Name is the service name, the registry key
	Name string `yaml:"name"`
	// DisplayName is the human-readable name shown by management tools
	DisplayName string `yaml:"display_name"`
	// Description is an optional free-form description
	Description string `yaml:"description,omitempty"`
	// ExecutablePath is the service binary invoked by the supervisor
	ExecutablePath string `yaml:"executable_path"`
	// LaunchArguments are passed to the entry function on start
	LaunchArguments []string `yaml:"launch_arguments,omitempty"`
	// ServiceType describes how the service process is hosted
	ServiceType ServiceType `yaml:"service_type"`
	// StartType describes when the supervisor launches the service
	StartType StartType `yaml:"start_type"`
	// DelayedAutoStart defers an auto-start service until after boot-critical
	// services; only meaningful with StartAuto
	DelayedAutoStart bool `yaml:"delayed_auto_start,omitempty"`
	// ErrorControl describes the supervisor's reaction to startup failure
	ErrorControl ErrorControl `yaml:"error_control"`
	// Dependencies names services that must be running first, in order
	Dependencies []string `yaml:"dependencies,omitempty"`
	// Account is the account the service runs under, empty for the system
	// default
	Account string `yaml:"account,omitempty"`
}

// validate checks the configuration's self-contained invariants
func (c ServiceConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("service name not specified")
	}
	if strings.ContainsAny(c.Name, "/\\") {
		return fmt.Errorf("service name %q contains path separators", c.Name)
	}
	if c.ExecutablePath == "" {
		return fmt.Errorf("executable path not specified")
	}
	if c.StartType > StartDisabled {
		return fmt.Errorf("invalid start type %d", uint32(c.StartType))
	}
	if c.DelayedAutoStart && c.StartType != StartAuto {
		return fmt.Errorf("delayed auto start requires start type %s", StartAuto)
	}
	for _, dep := range c.Dependencies {
		if dep == c.Name {
			return fmt.Errorf("%w: %q depends on itself", ErrDependencyCycle, c.Name)
		}
	}
	return nil
}

// ConfigChange is a partial configuration update. Nil fields keep the
// persisted value; non-nil fields replace it.
type ConfigChange struct {
	// DisplayName replaces the display name
	DisplayName *string
	// Description replaces the description
	Description *string
	// ExecutablePath replaces the service binary path
	ExecutablePath *string
	// LaunchArguments replaces the launch arguments
	LaunchArguments *[]string
	// StartType replaces the start type
	StartType *StartType
	// DelayedAutoStart replaces the delayed auto start flag
	DelayedAutoStart *bool
	// ErrorControl replaces the error control setting
	ErrorControl *ErrorControl
	// Dependencies replaces the dependency list
	Dependencies *[]string
	// Account replaces the run-as account
	Account *string
}

// apply merges the change into a copy of cfg
func (ch ConfigChange) apply(cfg ServiceConfig) ServiceConfig {
	if ch.DisplayName != nil {
		cfg.DisplayName = *ch.DisplayName
	}
	if ch.Description != nil {
		cfg.Description = *ch.Description
	}
	if ch.ExecutablePath != nil {
		cfg.ExecutablePath = *ch.ExecutablePath
	}
	if ch.LaunchArguments != nil {
		cfg.LaunchArguments = append([]string(nil), (*ch.LaunchArguments)...)
	}
	if ch.StartType != nil {
		cfg.StartType = *ch.StartType
	}
	if ch.DelayedAutoStart != nil {
		cfg.DelayedAutoStart = *ch.DelayedAutoStart
	}
	if ch.ErrorControl != nil {
		cfg.ErrorControl = *ch.ErrorControl
	}
	if ch.Dependencies != nil {
		cfg.Dependencies = append([]string(nil), (*ch.Dependencies)...)
	}
	if ch.Account != nil {
		cfg.Account = *ch.Account
	}
	return cfg
}

// checkDependencyCycle rejects configurations whose dependency chain loops
// back to the service itself, walking through the dependency lists of already
// registered services. Unknown dependency names are allowed; the supervisor
// resolves them at start time.
func checkDependencyCycle(name string, deps []string, lookup func(string) ([]string, bool)) error {
	visited := make(map[string]bool)

	var walk func(string, []string) error
	walk = func(current string, currentDeps []string) error {
		for _, dep := range currentDeps {
			if dep == name {
				return fmt.Errorf("%w: %q reachable from its own dependencies via %q",
					ErrDependencyCycle, name, current)
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if next, ok := lookup(dep); ok {
				if err := walk(dep, next); err != nil {
					return err
				}
			}
		}
		return nil
	}

	return walk(name, deps)
}
