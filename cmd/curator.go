package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/curator"
	"github.com/neomagi/neomagi/internal/memory"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/store/pg"
)

// curatorCmd runs one Memory Curator consolidation pass on demand. The
// curator has no automatic trigger; wiring it to a schedule is an
// operator decision (validate the cron expression with
// curator.ValidateSchedule, then invoke this from that scheduler).
func curatorCmd() *cobra.Command {
	var lookbackDays int
	var scopeKey string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "curator",
		Short: "Consolidate recent daily notes into MEMORY.md",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			snap := cfg.Snapshot()

			days := lookbackDays
			if days <= 0 {
				days = snap.Curator.RetentionDays
			}
			if days <= 0 {
				days = 7
			}

			workspace := config.ExpandHome(snap.Workspace)
			notes, err := curator.ReadRecentDailyNotes(workspace, days)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Println("no daily notes in lookback window, nothing to curate")
				return nil
			}

			fileName := snap.Curator.CuratedFileName
			if fileName == "" {
				fileName = "MEMORY.md"
			}
			memoryMDPath := filepath.Join(workspace, fileName)
			var current string
			if data, err := os.ReadFile(memoryMDPath); err == nil {
				current = string(data)
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("read %s: %w", memoryMDPath, err)
			}

			providerRegistry := providers.NewRegistry(snap.Providers.Default)
			registerProviders(providerRegistry, cfg)
			entry, err := providerRegistry.Get("")
			if err != nil {
				return fmt.Errorf("no provider available for curation: %w", err)
			}

			maxTokens := snap.Curator.CuratedMaxTokens
			if maxTokens <= 0 {
				maxTokens = 4000
			}
			result, err := curator.Consolidate(cmd.Context(), entry.Provider, notes, current, maxTokens*4)
			if err != nil {
				return err
			}
			if result.Status == "no_changes" {
				fmt.Println("curation: no changes")
				return nil
			}

			fmt.Printf("curation: %d addition(s), %d removal(s), truncated=%v\n", result.AdditionsCount, result.RemovalsCount, result.Truncated)
			if dryRun {
				fmt.Println(result.NewContent)
				return nil
			}

			if err := os.WriteFile(memoryMDPath, []byte(result.NewContent+"\n"), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", memoryMDPath, err)
			}

			if snap.Database.PostgresDSN != "" {
				if err := reindexCuratedMemory(cmd.Context(), snap, workspace, memoryMDPath, scopeKey); err != nil {
					fmt.Fprintf(os.Stderr, "curation written but reindex failed: %v\n", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&lookbackDays, "days", 7, "how many days of daily notes to review")
	cmd.Flags().StringVar(&scopeKey, "scope", "main", "scope_key to index curated entries under")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the proposal instead of writing MEMORY.md")

	return cmd
}

func reindexCuratedMemory(ctx context.Context, snap config.Config, workspace, memoryMDPath, scopeKey string) error {
	db, err := pg.Open(snap.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	indexer := memory.NewIndexer(workspace, pg.NewMemoryStore(db))
	_, err = indexer.IndexCuratedMemory(ctx, memoryMDPath, scopeKey)
	return err
}
