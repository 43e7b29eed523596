package core

import (
	"fmt"
	"os"
	"path/filepath"

	uber_config "go.uber.org/config"
	"go.uber.org/fx"
)

// ConfigModule provides the configuration provider.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
)

const _envConfigDir = "RABRIDGE_CONFIG_DIR"

// Config wraps a config.Provider.
type Config struct {
	provider uber_config.Provider
}

// Get returns the value at the given path.
func (c Config) Get(path string) uber_config.Value {
	return c.provider.Get(path)
}

// Name identifies this provider.
func (c Config) Name() string {
	return "config"
}

// NewConfig loads the YAML configuration listed in the config directory's meta.yaml.
func NewConfig() (uber_config.Provider, error) {
	configDir := getConfigDir()

	// meta.yaml names the configuration files to layer, in order.
	metaPath := filepath.Join(configDir, "meta.yaml")
	metaProvider, err := uber_config.NewYAML(
		uber_config.File(metaPath),
		uber_config.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta configuration: %w", err)
	}

	var configFiles []string
	if err := metaProvider.Get("files").Populate(&configFiles); err != nil {
		return nil, fmt.Errorf("failed to read files list from meta.yaml: %w", err)
	}

	var validFiles []string
	for _, file := range configFiles {
		fullPath := filepath.Join(configDir, file)
		if _, err := os.Stat(fullPath); err == nil {
			validFiles = append(validFiles, fullPath)
		}
	}

	if len(validFiles) == 0 {
		return nil, fmt.Errorf("no configuration files found in %s", configDir)
	}

	var options []uber_config.YAMLOption
	for _, file := range validFiles {
		options = append(options, uber_config.File(file))
	}
	options = append(options, uber_config.Expand(os.LookupEnv))

	provider, err := uber_config.NewYAML(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return Config{provider: provider}, nil
}

// getConfigDir returns the path to the configuration directory.
func getConfigDir() string {
	if configDir := os.Getenv(_envConfigDir); configDir != "" {
		return configDir
	}

	// Default to the config directory relative to the current working directory.
	// This assumes the binary is run from the workspace root.
	return "src/rabridge/config"
}
