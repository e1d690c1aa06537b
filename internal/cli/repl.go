// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/anvil/internal/api"
	"github.com/jeranaias/anvil/internal/config"
	"github.com/jeranaias/anvil/internal/conversation"
	"github.com/jeranaias/anvil/internal/extract"
	"github.com/jeranaias/anvil/internal/fileops"
	"github.com/jeranaias/anvil/internal/session"
	"github.com/jeranaias/anvil/internal/storage"
	"github.com/jeranaias/anvil/internal/ui/styles"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// App wires the chat loop together: client, conversation, session
// store, file materializer, input and rendering.
type App struct {
	cfg    *config.Config
	client *api.Client
	chat   *session.Session
	store  *storage.Store
	files  *fileops.Materializer
	input  *Input
	render *Renderer

	// sessionID is non-empty once the conversation is saved or loaded;
	// later saves and artifacts attach to it.
	sessionID string

	// lastFiles are the paths written in the most recent turn, for the
	// /run shortcut.
	lastFiles []string
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config, store *storage.Store) *App {
	client := api.NewClient(cfg.API.Key).
		WithBaseURL(cfg.API.BaseURL).
		WithModel(cfg.API.Model).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxTokens(cfg.API.MaxTokens).
		WithTemperature(cfg.API.Temperature)

	workspace := cfg.Files.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	theme := styles.New(cfg.UI.Theme)
	app := &App{
		cfg:    cfg,
		client: client,
		chat:   session.New(client, conversation.New(cfg.Chat.SystemPrompt)),
		store:  store,
		files:  fileops.NewMaterializer(workspace),
		render: NewRenderer(theme, cfg.UI.Markdown, cfg.UI.SyntaxHighlight),
	}
	app.chat.OnDelta(func(delta string) {
		fmt.Print(delta)
	})
	return app
}

// Run drives the interactive loop until /quit or EOF.
func (a *App) Run(ctx context.Context) error {
	a.input = NewInput()
	defer a.input.Close()

	a.printWelcome()

	for {
		line, err := a.input.ReadLine("you> ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			a.render.Info("(input aborted, /quit to exit)")
			continue
		case errors.Is(err, io.EOF):
			fmt.Println()
			return nil
		case err != nil:
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.dispatch(ctx, line)
			if err != nil {
				a.render.Error("%v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.runTurn(ctx, line)
	}
}

// runTurn executes one chat exchange and the artifact flow that
// follows it. Ctrl-C during the stream cancels the request.
func (a *App) runTurn(ctx context.Context, prompt string) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	stop := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			a.chat.Cancel()
		case <-stop:
		}
	}()
	defer func() {
		signal.Stop(sigs)
		close(stop)
	}()

	a.render.Info("%s:", a.client.Model())
	artifacts, err := a.chat.RunTurn(ctx, prompt)
	fmt.Println()

	if err != nil {
		a.reportTurnError(err)
		return
	}

	history := a.chat.Log().History()
	if len(history) > 0 {
		a.render.Reply(history[len(history)-1].Content)
	}
	a.materialize(ctx, artifacts)
}

func (a *App) reportTurnError(err error) {
	switch {
	case errors.Is(err, api.ErrCancelled):
		a.render.Info("(cancelled)")
	case errors.Is(err, api.ErrTimeout):
		a.render.Error("request timed out")
	default:
		a.render.Error("%v", err)
	}
	if api.Retryable(err) {
		a.render.Info("/retry to resend the last prompt")
	}
}

// materialize plans, confirms and writes extracted files.
func (a *App) materialize(ctx context.Context, artifacts []extract.FileArtifact) {
	a.lastFiles = a.lastFiles[:0]
	if len(artifacts) == 0 {
		return
	}

	for _, art := range artifacts {
		plan, err := a.files.PlanWrite(art)
		if err != nil {
			a.render.Error("skip %s: %v", art.Filename, err)
			continue
		}
		if plan.Unchanged() {
			a.render.Info("%s unchanged", plan.RelPath)
			continue
		}

		fmt.Println()
		a.render.Diff(plan)
		if plan.IsNew() && a.cfg.UI.SyntaxHighlight {
			a.render.Code(plan.Artifact.Content, plan.Artifact.Language)
		}

		if a.cfg.Files.ConfirmWrites {
			if !a.input.Confirm(fmt.Sprintf("write %s?", plan.RelPath)) {
				a.render.Info("skipped %s", plan.RelPath)
				continue
			}
		}
		if err := a.files.Apply(plan); err != nil {
			a.render.Error("%v", err)
			continue
		}
		a.render.Success("wrote %s", plan.RelPath)
		a.lastFiles = append(a.lastFiles, plan.RelPath)

		if a.sessionID != "" {
			if err := a.store.SaveArtifact(ctx, a.sessionID, art); err != nil {
				a.render.Error("record artifact: %v", err)
			}
		}
	}
}

func (a *App) printWelcome() {
	theme := a.render.Theme()
	fmt.Println(theme.Banner.Render("anvil — chat that writes files"))
	a.render.Info("model %s · workspace %s", a.client.Model(), a.files.Root())
	a.render.Info("/help for commands")
	fmt.Println()
}
