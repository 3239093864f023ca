package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds CLI defaults. All fields can come from a yaml config
// file or from GRISTCORE_* environment variables.
type Config struct {
	Document  string `mapstructure:"document"`   // path of the document file
	SchemaDir string `mapstructure:"schema_dir"` // directory of CUE schema files

	Log struct {
		Level  string `mapstructure:"level"`  // debug | info | warn | error
		Format string `mapstructure:"format"` // text | json
	} `mapstructure:"log"`
}

// Load reads configuration from path (optional; "" means environment
// and defaults only).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRISTCORE")
	v.AutomaticEnv()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
