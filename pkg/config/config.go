// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package config

import (
	"fmt"
	"time"
)

// Config is the root runtime configuration. Everything is optional; zero
// config runs with in-memory frames against the default OpenAI endpoint.
type Config struct {
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Context ContextConfig `yaml:"context,omitempty"`
	Cache   CacheConfig   `yaml:"cache,omitempty"`
	Frames  FramesConfig  `yaml:"frames,omitempty"`
	Plan    PlanConfig    `yaml:"plan,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// ContextConfig configures prompt assembly and compression.
type ContextConfig struct {
	// Strategy is truncation, sliding_window or level.
	Strategy string `yaml:"strategy,omitempty"`

	// MultimodalMode is atomic, text_only or latest_image.
	MultimodalMode string `yaml:"multimodal_mode,omitempty"`

	// TokenBudget caps the assembled prompt. Zero means unbounded.
	TokenBudget int `yaml:"token_budget,omitempty"`

	WindowSize int `yaml:"window_size,omitempty"`
	KeepImages int `yaml:"keep_images,omitempty"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// ByteBudget caps in-memory raw results.
	ByteBudget int64 `yaml:"byte_budget,omitempty"`

	// Directory enables disk spill for evicted results.
	Directory string `yaml:"directory,omitempty"`
}

// FramesConfig configures the frame engine and snapshot store.
type FramesConfig struct {
	// Store is memory, filesystem or sqlite.
	Store string `yaml:"store,omitempty"`

	// Directory holds snapshots for the filesystem and sqlite stores.
	Directory string `yaml:"directory,omitempty"`

	// TokenSecret signs resume handles. Supports ${VAR} expansion.
	TokenSecret string `yaml:"token_secret,omitempty"`

	// TokenTTL bounds resume handle validity.
	TokenTTL time.Duration `yaml:"token_ttl,omitempty"`

	// OrphanAge is the minimum age before pending snapshots are collected.
	OrphanAge time.Duration `yaml:"orphan_age,omitempty"`
}

// PlanConfig sets plan skillkit defaults.
type PlanConfig struct {
	// ExecutionMode is sequential or parallel.
	ExecutionMode string `yaml:"execution_mode,omitempty"`

	MaxConcurrency int `yaml:"max_concurrency,omitempty"`
}

type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is simple or verbose.
	Format string `yaml:"format,omitempty"`

	// File redirects logs away from stderr.
	File string `yaml:"file,omitempty"`
}

func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()

	if c.Context.Strategy == "" {
		c.Context.Strategy = "truncation"
	}
	if c.Context.MultimodalMode == "" {
		c.Context.MultimodalMode = "atomic"
	}
	if c.Context.WindowSize <= 0 {
		c.Context.WindowSize = 20
	}
	if c.Context.KeepImages <= 0 {
		c.Context.KeepImages = 1
	}

	if c.Frames.Store == "" {
		c.Frames.Store = "memory"
	}
	if c.Frames.TokenTTL <= 0 {
		c.Frames.TokenTTL = 24 * time.Hour
	}
	if c.Frames.OrphanAge <= 0 {
		c.Frames.OrphanAge = time.Hour
	}

	if c.Plan.ExecutionMode == "" {
		c.Plan.ExecutionMode = "sequential"
	}
	if c.Plan.MaxConcurrency <= 0 {
		c.Plan.MaxConcurrency = 4
	}

	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}

	switch c.Context.Strategy {
	case "truncation", "sliding_window", "level":
	default:
		return fmt.Errorf("invalid context strategy: %s", c.Context.Strategy)
	}
	switch c.Context.MultimodalMode {
	case "atomic", "text_only", "latest_image":
	default:
		return fmt.Errorf("invalid multimodal mode: %s", c.Context.MultimodalMode)
	}

	switch c.Frames.Store {
	case "memory":
	case "filesystem", "sqlite":
		if c.Frames.Directory == "" {
			return fmt.Errorf("frames store %q requires a directory", c.Frames.Store)
		}
	default:
		return fmt.Errorf("invalid frames store: %s", c.Frames.Store)
	}

	switch c.Plan.ExecutionMode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("invalid plan execution mode: %s", c.Plan.ExecutionMode)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}
