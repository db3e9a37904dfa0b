// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the LLM provider type. Any OpenAI-compatible
// endpoint works through the openai provider with a custom base_url.
type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderOllama LLMProvider = "ollama"
)

// LLMConfig configures the LLM driver.
type LLMConfig struct {
	// Provider type (openai, ollama).
	Provider LLMProvider `yaml:"provider,omitempty"`

	// Model name (e.g., "gpt-4o").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout bounds one streaming request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries for transient HTTP failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		if os.Getenv("OLLAMA_HOST") != "" && os.Getenv("OPENAI_API_KEY") == "" {
			c.Provider = LLMProviderOllama
		} else {
			c.Provider = LLMProviderOpenAI
		}
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOllama:
			c.Model = "llama3.2"
		default:
			c.Model = "gpt-4o"
		}
	}

	if c.BaseURL == "" {
		switch c.Provider {
		case LLMProviderOllama:
			c.BaseURL = "http://localhost:11434/v1"
			if host := os.Getenv("OLLAMA_HOST"); host != "" {
				c.BaseURL = host + "/v1"
			}
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}

	if c.APIKey == "" && c.Provider == LLMProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderOllama:
	default:
		return fmt.Errorf("invalid llm provider: %s", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Provider == LLMProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("llm api_key is required (set OPENAI_API_KEY or llm.api_key)")
	}
	return nil
}
