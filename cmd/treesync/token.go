package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/openmined/treesync/internal/client/config"
	"github.com/spf13/cobra"
)

// ensureToken asks for a Dropbox access token when none is configured and
// stores it in the config file for the next run.
func ensureToken(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.Token != "" || !isTerminal(cmd.InOrStdin()) {
		return nil
	}

	var token string
	input := huh.NewInput().
		Title("Dropbox access token").
		Description("Create an app with an App Folder on the Dropbox developer console and generate a token.").
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("token cannot be empty")
			}
			return nil
		}).
		Value(&token)
	form := huh.NewForm(huh.NewGroup(input)).
		WithInput(cmd.InOrStdin()).
		WithOutput(cmd.ErrOrStderr())
	if err := form.RunWithContext(cmd.Context()); err != nil {
		return fmt.Errorf("token prompt: %w", err)
	}

	cfg.Token = strings.TrimSpace(token)

	saved, err := config.Load(cfg.Path)
	if err != nil {
		saved = config.Default()
	}
	saved.Token = cfg.Token
	if err := saved.Save(cfg.Path); err != nil {
		slog.Warn("failed to save token", "path", cfg.Path, "error", err)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Token saved to %s\n", cfg.Path)
	return nil
}
