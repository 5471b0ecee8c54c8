package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/neomagi/neomagi/internal/bootstrap"
	"github.com/neomagi/neomagi/internal/config"
)

// initCmd runs a short interactive wizard, then writes a default
// config.json and seeds the workspace anchor files, so a fresh checkout
// has something to run `migrate up` and `neomagi` against.
func initCmd() *cobra.Command {
	var noninteractive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.json and seed workspace templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}

			cfg := config.Default()
			if !noninteractive {
				if err := runInitWizard(cfg); err != nil {
					return fmt.Errorf("init wizard: %w", err)
				}
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("wrote %s\n", path)

			workspace := config.ExpandHome(cfg.Workspace)
			seeded, err := bootstrap.EnsureWorkspaceFiles(workspace)
			if err != nil {
				return fmt.Errorf("seed workspace: %w", err)
			}
			if len(seeded) > 0 {
				fmt.Printf("seeded %d workspace file(s) under %s\n", len(seeded), workspace)
			}

			fmt.Println()
			fmt.Println("Set NEOMAGI_POSTGRES_DSN, run `neomagi migrate up`, then `neomagi`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noninteractive, "yes", false, "skip the wizard and write defaults unmodified")
	return cmd
}

// runInitWizard prompts for the handful of settings worth asking about up
// front; everything else keeps config.Default()'s values. A cancelled
// form (Esc / Ctrl+C) leaves cfg unmodified and is not an error.
func runInitWizard(cfg *config.Config) error {
	enableTelegram := false
	defaultProvider := cfg.Providers.Default
	port := fmt.Sprintf("%d", cfg.Gateway.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Description("Where AGENTS.md, daily notes, and MEMORY.md live").
				Value(&cfg.Workspace),
			huh.NewInput().
				Title("Default LLM provider name").
				Value(&defaultProvider),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					var n int
					if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
						return fmt.Errorf("must be a positive integer")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Enable the Telegram channel adapter?").
				Value(&enableTelegram),
		),
	)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil
		}
		return err
	}

	cfg.Providers.Default = defaultProvider
	cfg.Telegram.Enabled = enableTelegram
	fmt.Sscanf(port, "%d", &cfg.Gateway.Port)
	return nil
}
