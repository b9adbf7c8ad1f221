// Package config loads server configuration from a YAML file with
// environment-variable overrides for credentials and deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Anthropic struct {
		APIKey string `yaml:"apiKey"`
	} `yaml:"anthropic"`

	PatentsView struct {
		APIKey             string `yaml:"apiKey"`
		BaseURL            string `yaml:"baseUrl"`
		RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	} `yaml:"patentsview"`

	Orchestrate struct {
		BaseURL      string `yaml:"baseUrl"`
		APIKey       string `yaml:"apiKey"`
		WorkflowName string `yaml:"workflowName"`
	} `yaml:"orchestrate"`

	Workflow struct {
		MaxSearchResults   int `yaml:"maxSearchResults"`
		CallTimeoutSeconds int `yaml:"callTimeoutSeconds"`
		RunTimeoutSeconds  int `yaml:"runTimeoutSeconds"`
	} `yaml:"workflow"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlpEndpoint"`
	} `yaml:"telemetry"`
}

// Load reads the YAML file at path, then applies environment overrides.
// A missing file is not an error; overrides and defaults still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Server.Addr, "PRIORAI_ADDR")
	overrideString(&c.Database.Path, "PRIORAI_DB_PATH")
	overrideString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	overrideString(&c.PatentsView.APIKey, "PATENTSVIEW_API_KEY")
	overrideString(&c.PatentsView.BaseURL, "PATENTSVIEW_BASE_URL")
	overrideInt(&c.PatentsView.RateLimitPerMinute, "PATENTSVIEW_RATE_LIMIT")
	overrideString(&c.Orchestrate.BaseURL, "ORCHESTRATE_BASE_URL")
	overrideString(&c.Orchestrate.APIKey, "ORCHESTRATE_API_KEY")
	overrideString(&c.Orchestrate.WorkflowName, "ORCHESTRATE_WORKFLOW_NAME")
	overrideString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "priorai.db"
	}
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
