package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <text>",
		Short: "Show where a message would be filed and who would own it",
		Long: `Run the partition router and the assignee rules on a message
without sending anything.

Examples:
  taskpilot route 给租客换门锁
  taskpilot route "设计新的门店海报"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			router, err := routing.NewRouter(cfg.Partitions)
			if err != nil {
				return err
			}
			printRoute(cmd.OutOrStdout(), router, roles.NewDirectory(cfg.Roles), strings.Join(args, " "))
			return nil
		},
	}
}

func printRoute(w io.Writer, router *routing.Router, dir *roles.Directory, text string) {
	partition, rule := router.Explain(text)
	role := roles.Pick(text)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+titleStyle.Render("Routing"))
	fmt.Fprintln(w, "  "+divider())
	fmt.Fprintln(w, field("message", text))
	fmt.Fprintln(w, field("partition", fmt.Sprintf("%s (%s)", partition.Label, partition.Name)))
	fmt.Fprintln(w, field("rule", rule))
	if partition.ProjectDB == "" {
		fmt.Fprintln(w, "  "+labelStyle.Width(12).Render("databases")+" "+failStyle.Render("not configured"))
	} else {
		fmt.Fprintln(w, field("project db", partition.ProjectDB))
		fmt.Fprintln(w, field("task db", partition.TaskDB))
	}
	fmt.Fprintln(w, field("assignee", fmt.Sprintf("%s (%s)", dir.Mention(role), role)))
	fmt.Fprintln(w)
}
