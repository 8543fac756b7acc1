package main

import (
	"fmt"
	"os"

	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/service"
	"github.com/pelletier/go-toml/v2"
)

// Config is the content of the configuration file. Flags override its values.
type Config struct {
	// Provider is the name of the main provider (stac, order, imageservice or local)
	Provider string `toml:"provider"`
	// Fallbacks are tried in order when the provider fails. They share its options.
	Fallbacks []string         `toml:"fallbacks"`
	Options   provider.Options `toml:"options"`

	// VSI lists the prefixes (gs://, s3://) of the remote files read by GDAL through osio
	VSI       []string          `toml:"vsi"`
	VSIConfig service.VSIConfig `toml:"vsi_config"`

	// Storage is the uri of the minicubes saved by the workers (gs://bucket/path or a local directory)
	Storage string `toml:"storage"`

	Server ServerConfig `toml:"server"`
}

// ServerConfig configures the serve command
type ServerConfig struct {
	Addr    string `toml:"addr"`
	Token   string `toml:"token"`
	WorkDir string `toml:"workdir"`
}

// DefaultConfig returns the configuration used without file
func DefaultConfig() Config {
	return Config{
		Provider: provider.NameSTAC,
		Server:   ServerConfig{Addr: ":8080", WorkDir: os.TempDir()},
	}
}

// LoadConfig decodes the configuration file (DefaultConfig if path is empty)
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, service.ErrConfiguration{Param: "config", Reason: err.Error()}
	}
	return cfg, nil
}
