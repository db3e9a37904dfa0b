// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/praxislang/praxis/pkg/agent"
	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/plan"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/server"
	"github.com/praxislang/praxis/pkg/skills"
)

type RunCmd struct {
	Agentfile string `arg:"" help:"Path to the agent file." type:"path"`
	Query     string `short:"q" help:"Query passed to the program as {query}."`
	Name      string `help:"Agent name used in logs and frames." default:"main"`
	Delta     bool   `help:"Stream per-chunk deltas instead of accumulated answers."`
	JSON      bool   `help:"Print envelope items as JSON lines."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	content, err := os.ReadFile(c.Agentfile)
	if err != nil {
		return fmt.Errorf("failed to read agent file: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	ag, err := agent.New(agent.Options{
		Name:     c.Name,
		Content:  string(content),
		Config:   cfg,
		Registry: registry,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := agent.StreamFull
	if c.Delta {
		mode = agent.StreamDelta
	}
	ch, err := ag.ARun(ctx, c.Query, mode)
	if err != nil {
		return err
	}

	var last agent.StreamItem
	for item := range ch {
		last = item
		if c.JSON {
			data, err := json.Marshal(item)
			if err != nil {
				continue
			}
			fmt.Println(string(data))
		}
	}

	switch last.Status {
	case "completed":
		if !c.JSON && last.Result != nil {
			fmt.Println(stringify(last.Result))
		}
		return nil
	case "running", "":
		if ctx.Err() != nil {
			return fmt.Errorf("run interrupted")
		}
		return fmt.Errorf("run ended in state %s", ag.State())
	default:
		return fmt.Errorf("run %s", last.Status)
	}
}

type ValidateCmd struct {
	Agentfile string `arg:"" help:"Path to the agent file." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	content, err := os.ReadFile(c.Agentfile)
	if err != nil {
		return fmt.Errorf("failed to read agent file: %w", err)
	}

	blocks, err := dsl.Parse(string(content))
	if err != nil {
		return fmt.Errorf("%s: %w", c.Agentfile, err)
	}

	fmt.Printf("%s: %d blocks\n", c.Agentfile, len(blocks))
	for _, b := range blocks {
		out := ""
		if b.Output != "" {
			out = " -> " + b.Output
		}
		fmt.Printf("  %4d  #%s%s\n", b.StartLine, b.Kind, out)
	}
	return nil
}

type ServeCmd struct {
	Host string `help:"Bind address (overrides config)."`
	Port int    `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg).Start(ctx)
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("praxis version %s\n", version)
	return nil
}

// buildRegistry assembles the run's skill registry with the plan kit.
func buildRegistry(cfg *config.Config) (*skills.Registry, error) {
	opts := []resultcache.Option{}
	if cfg.Cache.ByteBudget > 0 {
		opts = append(opts, resultcache.WithByteBudget(int(cfg.Cache.ByteBudget)))
	}
	if cfg.Cache.Directory != "" {
		opts = append(opts, resultcache.WithDirectory(cfg.Cache.Directory))
	}
	cache, err := resultcache.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build result cache: %w", err)
	}
	registry := skills.NewRegistry(cache)
	if err := registry.Register(plan.New(cfg.Plan).Kit()); err != nil {
		return nil, fmt.Errorf("failed to register plan kit: %w", err)
	}
	return registry, nil
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
