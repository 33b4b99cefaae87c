package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nodewatch/nodewatch/internal/state"
)

// newKeywordsCmd manages the persisted keyword list from the CLI. Changes
// land in the state file, so a running monitor picks them up on its next
// periodic state reload.
func newKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage the watched keyword list",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <keyword>",
			Short: "Add a keyword",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return withStore(func(store *state.Store) error {
					kw := strings.Join(args, " ")
					added, err := store.AddKeyword(kw)
					if err != nil {
						return err
					}
					if !added {
						fmt.Printf("keyword %q already present\n", kw)
						return nil
					}
					fmt.Printf("added %q\n", kw)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "del <keyword>",
			Short: "Remove a keyword",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return withStore(func(store *state.Store) error {
					kw := strings.Join(args, " ")
					removed, err := store.RemoveKeyword(kw)
					if err != nil {
						return err
					}
					if !removed {
						fmt.Printf("keyword %q not found\n", kw)
						return nil
					}
					fmt.Printf("removed %q\n", kw)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List watched keywords",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withStore(func(store *state.Store) error {
					kws := store.Keywords()
					if len(kws) == 0 {
						fmt.Println("no keywords configured")
						return nil
					}
					for _, kw := range kws {
						fmt.Println(kw)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(fn func(*state.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	store := state.NewStore(cfg.State.Path, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return fn(store)
}
