// Package config loads the category table and server settings from YAML,
// with environment overrides for deploy-time knobs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category is a named class of point data. The set is enumerated at startup
// and immutable afterwards.
type Category struct {
	Name   string `yaml:"name"`
	Color  string `yaml:"color"`
	Icon   string `yaml:"icon"`
	ZOrder int    `yaml:"zOrder"`
}

type Server struct {
	Addr         string `yaml:"addr"`
	DataDir      string `yaml:"dataDir"`
	DefaultLimit int    `yaml:"defaultLimit"`
	SeedPoints   int    `yaml:"seedPoints"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Categories []Category `yaml:"categories"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:         ":8000",
			DataDir:      "data/catalogs",
			DefaultLimit: 5000,
			SeedPoints:   2000,
		},
		Categories: []Category{
			{Name: "Protests", Color: "#e63946", Icon: "protest", ZOrder: 4},
			{Name: "Elections", Color: "#457b9d", Icon: "election", ZOrder: 3},
			{Name: "Economy", Color: "#2a9d8f", Icon: "economy", ZOrder: 2},
			{Name: "Legislation", Color: "#e9c46a", Icon: "legislation", ZOrder: 1},
		},
	}
}

// Load reads the config file at path, falling back to defaults for anything
// unset, then applies environment overrides (HTTP_ADDR, DATA_DIR).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}

	if len(cfg.Categories) == 0 {
		return cfg, fmt.Errorf("config has no categories")
	}
	seen := make(map[string]bool, len(cfg.Categories))
	for _, c := range cfg.Categories {
		if c.Name == "" {
			return cfg, fmt.Errorf("config has a category without a name")
		}
		if seen[c.Name] {
			return cfg, fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[c.Name] = true
	}

	return cfg, nil
}

// CategoryNames lists the configured category names in declaration order.
func (c Config) CategoryNames() []string {
	names := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		names[i] = cat.Name
	}
	return names
}
