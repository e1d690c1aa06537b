// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jeranaias/anvil/internal/fileops"
	"github.com/jeranaias/anvil/internal/shell"
	"github.com/jeranaias/anvil/internal/term"
	"github.com/jeranaias/anvil/internal/ui/picker"
	"github.com/jeranaias/anvil/internal/ui/styles"
	"github.com/jeranaias/anvil/internal/util"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// dispatch routes one slash command. Returns true when the loop should
// exit.
func (a *App) dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		a.printHelp()
	case "/clear":
		a.chat.Log().Clear()
		a.sessionID = ""
		a.render.Info("conversation cleared")
	case "/model":
		return false, a.cmdModel(ctx, args)
	case "/system":
		a.cmdSystem(args)
	case "/retry":
		return false, a.cmdRetry(ctx)
	case "/save":
		return false, a.cmdSave(ctx, strings.Join(args, " "))
	case "/sessions":
		return false, a.cmdSessions(ctx)
	case "/load":
		return false, a.cmdLoad(ctx, args)
	case "/delete":
		return false, a.cmdDelete(ctx, args)
	case "/search":
		return false, a.cmdSearch(ctx, strings.Join(args, " "))
	case "/export":
		return false, a.cmdExport(ctx, args)
	case "/tree":
		return false, a.cmdTree()
	case "/run":
		return false, a.cmdRun(ctx, args)
	case "/theme":
		a.cmdTheme(args)
	case "/status":
		a.cmdStatus()
	default:
		return false, fmt.Errorf("unknown command %s, /help for the list", cmd)
	}
	return false, nil
}

func (a *App) printHelp() {
	rows := [][2]string{
		{"/model [id]", "pick a model, or switch directly to id"},
		{"/system [prompt]", "show or replace the system prompt"},
		{"/retry", "resend the last prompt after a failure"},
		{"/clear", "start a fresh conversation"},
		{"/save [title]", "save the conversation"},
		{"/sessions", "list saved conversations"},
		{"/load <id>", "restore a saved conversation"},
		{"/delete <id>", "delete a saved conversation"},
		{"/search <text>", "search saved conversations"},
		{"/export <id> [file]", "export a conversation as markdown"},
		{"/tree", "show the workspace file tree"},
		{"/run <file>", "run a written script file"},
		{"/theme <dark|light|auto>", "switch color theme"},
		{"/status", "show connection and session state"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %s %s\n", util.PadRight(row[0], 26), row[1])
	}
}

func (a *App) cmdModel(ctx context.Context, args []string) error {
	if len(args) > 0 {
		a.client.SetModel(args[0])
		a.render.Success("model set to %s", args[0])
		return nil
	}

	models, err := a.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	if !term.IsStdoutTTY() || !term.IsStdinTTY() {
		for _, m := range models {
			fmt.Println(m.ID)
		}
		return nil
	}

	choice, err := picker.Pick(models, a.client.Model())
	if err != nil {
		return err
	}
	if choice == "" {
		return nil
	}
	a.client.SetModel(choice)
	a.render.Success("model set to %s", choice)
	return nil
}

func (a *App) cmdSystem(args []string) {
	if len(args) == 0 {
		prompt := a.chat.Log().SystemPrompt()
		if prompt == "" {
			a.render.Info("no system prompt set")
			return
		}
		fmt.Println(prompt)
		return
	}
	a.chat.Log().SetSystemPrompt(strings.Join(args, " "))
	a.render.Success("system prompt updated")
}

func (a *App) cmdRetry(ctx context.Context) error {
	if a.chat.LastPrompt() == "" {
		return fmt.Errorf("nothing to retry")
	}
	a.render.Info("retrying: %s", util.TruncateWidth(a.chat.LastPrompt(), 60))
	a.runTurn(ctx, a.chat.LastPrompt())
	return nil
}

func (a *App) cmdSave(ctx context.Context, title string) error {
	history := a.chat.Log().History()
	if len(history) < 2 {
		return fmt.Errorf("nothing to save yet")
	}
	id, err := a.store.Save(ctx, a.sessionID, title, a.client.Model(), history)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.sessionID = id
	a.render.Success("saved %s", shortID(id))
	return nil
}

func (a *App) cmdSessions(ctx context.Context) error {
	metas, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(metas) == 0 {
		a.render.Info("no saved sessions")
		return nil
	}
	for _, m := range metas {
		marker := " "
		if m.ID == a.sessionID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %2d msgs  %s\n",
			marker, shortID(m.ID), m.UpdatedAt.Format("2006-01-02 15:04"),
			m.Messages, util.TruncateWidth(m.Title, 48))
	}
	return nil
}

func (a *App) cmdLoad(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /load <id>")
	}
	messages, meta, err := a.store.Load(ctx, args[0])
	if err != nil {
		return err
	}
	a.chat.Log().Replace(messages)
	a.sessionID = meta.ID
	if meta.Model != "" {
		a.client.SetModel(meta.Model)
	}
	a.render.Success("loaded %s (%d messages, model %s)", shortID(meta.ID), meta.Messages, meta.Model)
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /delete <id>")
	}
	if err := a.store.Delete(ctx, args[0]); err != nil {
		return err
	}
	if strings.HasPrefix(a.sessionID, args[0]) {
		a.sessionID = ""
	}
	a.render.Success("deleted %s", args[0])
	return nil
}

func (a *App) cmdSearch(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: /search <text>")
	}
	metas, err := a.store.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search sessions: %w", err)
	}
	if len(metas) == 0 {
		a.render.Info("no matches")
		return nil
	}
	for _, m := range metas {
		fmt.Printf("  %s  %s\n", shortID(m.ID), util.TruncateWidth(m.Title, 56))
	}
	return nil
}

func (a *App) cmdExport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /export <id> [file]")
	}
	if len(args) < 2 {
		return a.store.ExportMarkdown(ctx, args[0], os.Stdout)
	}

	path, err := a.files.Resolve(args[1])
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", args[1], err)
	}
	defer f.Close()
	if err := a.store.ExportMarkdown(ctx, args[0], f); err != nil {
		return err
	}
	a.render.Success("exported to %s", args[1])
	return nil
}

func (a *App) cmdTree() error {
	out, err := fileops.RenderTree(a.files.Root())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func (a *App) cmdRun(ctx context.Context, args []string) error {
	target := ""
	switch {
	case len(args) > 0:
		target = args[0]
	case len(a.lastFiles) == 1:
		target = a.lastFiles[0]
	default:
		return fmt.Errorf("usage: /run <file>")
	}

	abs, err := a.files.Resolve(target)
	if err != nil {
		return err
	}
	argv, err := shell.CommandFor(abs)
	if err != nil {
		return err
	}

	if !a.input.Confirm(fmt.Sprintf("run `%s`?", strings.Join(argv, " "))) {
		a.render.Info("not running")
		return nil
	}

	res, err := shell.Run(ctx, a.files.Root(), abs)
	if err != nil {
		return err
	}
	fmt.Print(res.Output)
	if res.Truncated {
		a.render.Info("(output truncated)")
	}
	if res.ExitCode != 0 {
		a.render.Error("exit %d after %s", res.ExitCode, res.Duration.Round(res.Duration/100))
	} else {
		a.render.Info("ok in %s", res.Duration.Round(res.Duration/100))
	}
	return nil
}

func (a *App) cmdTheme(args []string) {
	name := styles.ThemeAuto
	if len(args) > 0 {
		name = args[0]
	}
	switch name {
	case styles.ThemeDark, styles.ThemeLight, styles.ThemeAuto:
		a.cfg.UI.Theme = name
		a.render.SetTheme(styles.New(name))
		a.render.Success("theme: %s", name)
	default:
		a.render.Error("unknown theme %q (dark, light, auto)", name)
	}
}

func (a *App) cmdStatus() {
	fmt.Printf("endpoint   %s\n", a.cfg.API.BaseURL)
	fmt.Printf("model      %s\n", a.client.Model())
	fmt.Printf("timeout    %ds\n", a.cfg.API.TimeoutSecs)
	fmt.Printf("workspace  %s\n", a.files.Root())
	fmt.Printf("messages   %d\n", a.chat.Log().Len())
	if a.sessionID != "" {
		fmt.Printf("session    %s\n", shortID(a.sessionID))
	}
	if key := a.cfg.API.Key; key != "" {
		fmt.Printf("api key    %s\n", util.TruncateRunes(key, 10))
	} else {
		fmt.Println("api key    (none)")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
