package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"aurora/internal/app"
	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/repo"
)

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Manage agents"}
	ag.AddCommand(agentCreateCmd())
	ag.AddCommand(agentListCmd())
	ag.AddCommand(agentShowCmd())
	ag.AddCommand(agentUpdateCmd())
	ag.AddCommand(agentRemoveCmd())
	return ag
}

func agentCreateCmd() *cobra.Command {
	var in engine.AgentInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.CreateAgent(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printAgents(cmd, a)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.OwnerUserID, "owner", "", "owning user id")
	return cmd
}

func agentListCmd() *cobra.Command {
	var f repo.AgentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListAgents(ctx, f)
				if err != nil {
					return err
				}
				return printAgents(cmd, items...)
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerUserID, "owner", "", "owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func agentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printAgents(cmd, a)
			})
		},
	}
}

func agentUpdateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.AgentUpdate{Name: optionalString(cmd, "name", name)}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.UpdateAgent(ctx, args[0], upd, actorID())
				if err != nil {
					return err
				}
				return printAgents(cmd, a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	return cmd
}

func agentRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove agent and the opportunities it created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.RemoveAgent(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed agent %s\n", args[0])
				return nil
			})
		},
	}
}

func printAgents(cmd *cobra.Command, items ...domain.Agent) error {
	var v any = items
	if len(items) == 1 {
		v = items[0]
	}
	return printJSONOrTable(cmd.OutOrStdout(), v, func() {
		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Created"})
		for _, a := range items {
			tw.AppendRow(table.Row{a.ID, a.Name, a.OwnerUserID, formatTime(a.CreatedAt)})
		}
		tw.Render()
	})
}
