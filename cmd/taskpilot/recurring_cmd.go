package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/taskpilot/internal/config"
	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/recurring"
)

func newRecurringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring tasks",
		Long: `List and remove recurring tasks stored by the bot.

Recurring tasks are created from chat ("每周五提交周报"). These commands
work on the configured storage directly; stop the bot before removing
tasks so the running instance does not overwrite the change.

Examples:
  taskpilot recurring list
  taskpilot recurring remove 3`,
	}

	cmd.AddCommand(
		newRecurringListCmd(),
		newRecurringRemoveCmd(),
	)

	return cmd
}

func newRecurringListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active recurring tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecurringStore(cmd.Context(), func(store *recurring.Store) error {
				printRecurringList(cmd.OutOrStdout(), store.List())
				return nil
			})
		},
	}
}

func newRecurringRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Deactivate a recurring task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRecurringStore(cmd.Context(), func(store *recurring.Store) error {
				def, found := store.Get(id)
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to remove recurring task: %w", err)
				}
				out := cmd.OutOrStdout()
				if !removed {
					fmt.Fprintln(out, failStyle.Render(fmt.Sprintf("✗ No active recurring task with id %s", id)))
					return nil
				}
				title := id
				if found {
					title = def.Title
				}
				fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Removed recurring task %s (%s)", id, title)))
				return nil
			})
		},
	}
}

// withRecurringStore opens the configured storage without starting triggers.
func withRecurringStore(ctx context.Context, fn func(store *recurring.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Suppress()

	loc, err := config.LoadLocation(cfg.Recurring.Timezone)
	if err != nil {
		return err
	}
	storage, closeStorage, err := openRecurringStorage(cfg.Recurring)
	if err != nil {
		return err
	}
	defer closeStorage()

	store, err := recurring.Open(ctx, storage, recurring.Options{Location: loc})
	if err != nil {
		return fmt.Errorf("failed to load recurring tasks: %w", err)
	}
	return fn(store)
}

func printRecurringList(w io.Writer, defs []recurring.Definition) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+titleStyle.Render("Recurring tasks"))
	fmt.Fprintln(w, "  "+divider())

	if len(defs) == 0 {
		fmt.Fprintln(w, "  "+dimStyle.Render("No active recurring tasks"))
		fmt.Fprintln(w)
		return
	}

	for _, def := range defs {
		state := dimStyle.Render("pending")
		if def.CompletedThisWeek {
			state = successStyle.Render("done this cycle")
		}
		fmt.Fprintf(w, "  %s %s  %s\n", valueStyle.Render("#"+def.ID), def.Title, state)
		fmt.Fprintln(w, field("schedule", recurring.Describe(def)))
		if def.Assignee != "" {
			fmt.Fprintln(w, field("assignee", def.Assignee))
		}
		if def.GroupID != 0 {
			fmt.Fprintln(w, field("chat", fmt.Sprintf("%d", def.GroupID)))
		}
		if def.LastReminded != nil {
			fmt.Fprintln(w, field("reminded", def.LastReminded.Format("2006-01-02 15:04")))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "  "+dimStyle.Render(fmt.Sprintf("%d active", len(defs))))
	fmt.Fprintln(w)
}
