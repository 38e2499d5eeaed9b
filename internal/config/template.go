package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

const TemplateFile = "config.yaml"

// GenerateTemplateConfig returns the default configuration and, when
// writeToFile is set, writes it as YAML to TemplateFile.
func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := BuildConfig(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to build template config: %w", err)
	}

	if writeToFile {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile(TemplateFile, data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return *cfg, nil
}
