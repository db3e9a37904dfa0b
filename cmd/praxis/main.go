// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Command praxis runs block programs from the command line.
//
// Usage:
//
//	praxis run agent.px --query "what changed last week?"
//	praxis validate agent.px
//	praxis serve --config praxis.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/logger"
)

type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run an agent file to completion."`
	Validate ValidateCmd `cmd:"" help:"Parse an agent file and report errors."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP run server."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)."`
}

// loadConfig merges the config file with CLI logging overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.Logging.File = c.LogFile
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	return cfg, nil
}

// initLogger installs the process logger from config. The cleanup closes
// the log file when one is configured.
func initLogger(cfg *config.Config) (func(), error) {
	out := os.Stderr
	cleanup := func() {}
	if cfg.Logging.File != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
		cleanup = closeFile
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), out, cfg.Logging.Format)
	return cleanup, nil
}

func main() {
	config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("praxis"),
		kong.Description("Praxis - typed block programs for LLM agents"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
