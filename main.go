// anvil - terminal chat that turns model replies into files.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/anvil/internal/api"
	"github.com/jeranaias/anvil/internal/cli"
	"github.com/jeranaias/anvil/internal/config"
	"github.com/jeranaias/anvil/internal/conversation"
	"github.com/jeranaias/anvil/internal/fileops"
	"github.com/jeranaias/anvil/internal/session"
	"github.com/jeranaias/anvil/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default ~/.anvil/config.toml)")
		modelFlag   = flag.String("model", "", "override the configured model")
		baseURL     = flag.String("base-url", "", "override the API base URL")
		workspace   = flag.String("workspace", "", "directory extracted files are written under")
		timeoutSecs = flag.Int("timeout", 0, "per-request timeout in seconds")
		prompt      = flag.String("p", "", "one-shot prompt: run a single turn and exit")
		yes         = flag.Bool("yes", false, "write extracted files without confirmation")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("anvil %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	setupLogging()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *modelFlag != "" {
		cfg.API.Model = *modelFlag
	}
	if *baseURL != "" {
		cfg.API.BaseURL = *baseURL
	}
	if *workspace != "" {
		cfg.Files.Workspace = *workspace
	}
	if *timeoutSecs > 0 {
		cfg.API.TimeoutSecs = *timeoutSecs
	}
	if *yes {
		cfg.Files.ConfirmWrites = false
	}
	if err := cfg.Validate(); err != nil {
		fatal(fmt.Errorf("invalid configuration: %w", err))
	}
	config.SetGlobal(cfg)

	if *prompt != "" {
		if err := oneShot(cfg, *prompt, !*yes); err != nil {
			fatal(err)
		}
		return
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		fatal(err)
	}
	store, err := storage.Open(filepath.Join(configDir, "sessions.db"))
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	// Picking up config edits live lets a running session change
	// endpoints without a restart.
	if path, err := config.ConfigPath(); err == nil {
		if w, err := config.NewWatcher(path, nil); err == nil {
			if w.Watch() == nil {
				defer w.Close()
			}
		}
	}

	app := cli.NewApp(cfg, store)
	if err := app.Run(context.Background()); err != nil {
		fatal(err)
	}
}

// setupLogging sends the standard logger to a file under the config
// dir, keeping the terminal clean for the prompt. Without a writable
// config dir the log is discarded.
func setupLogging() {
	log.SetOutput(io.Discard)
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "anvil.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	log.SetOutput(f)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// oneShot runs a single non-interactive turn: stream the reply to
// stdout, then write any extracted files (listing them instead when
// confirmation is required but stdin is not a terminal).
func oneShot(cfg *config.Config, prompt string, listOnly bool) error {
	client := api.NewClient(cfg.API.Key).
		WithBaseURL(cfg.API.BaseURL).
		WithModel(cfg.API.Model).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxTokens(cfg.API.MaxTokens).
		WithTemperature(cfg.API.Temperature)

	chat := session.New(client, conversation.New(cfg.Chat.SystemPrompt))
	chat.OnDelta(func(delta string) { fmt.Print(delta) })

	artifacts, err := chat.RunTurn(context.Background(), prompt)
	fmt.Println()
	if err != nil {
		return err
	}

	root := cfg.Files.Workspace
	if root == "" {
		root, _ = os.Getwd()
	}
	files := fileops.NewMaterializer(root)
	for _, art := range artifacts {
		plan, err := files.PlanWrite(art)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", art.Filename, err)
			continue
		}
		if listOnly {
			fmt.Fprintf(os.Stderr, "extracted %s (not written, pass --yes)\n", plan.Summary())
			continue
		}
		if err := files.Apply(plan); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", plan.RelPath)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "anvil: %v\n", err)
	os.Exit(1)
}
