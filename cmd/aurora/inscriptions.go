package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"aurora/internal/app"
	"aurora/internal/domain"
)

var titleCase = cases.Title(language.English)

// statusLabel renders a status for humans, e.g. "Waitlisted".
func statusLabel(s domain.Status) string {
	return titleCase.String(string(s))
}

func inscriptionCmd() *cobra.Command {
	ins := &cobra.Command{Use: "inscription", Aliases: []string{"ins"}, Short: "Manage inscriptions"}
	ins.AddCommand(inscriptionCreateCmd())
	ins.AddCommand(inscriptionListCmd())
	ins.AddCommand(inscriptionShowCmd())
	ins.AddCommand(inscriptionAdvanceCmd())
	ins.AddCommand(inscriptionRollbackCmd())
	ins.AddCommand(inscriptionRemoveCmd())
	ins.AddCommand(inscriptionStatusCmd())
	return ins
}

func inscriptionCreateCmd() *cobra.Command {
	var agentID, opportunityID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Inscribe an agent into an opportunity's first phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				in, err := rt.Engine.CreateInscription(ctx, agentID, opportunityID, actorID())
				if err != nil {
					return err
				}
				return printInscription(cmd, in)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&opportunityID, "opportunity", "", "opportunity id")
	return cmd
}

func inscriptionListCmd() *cobra.Command {
	var opportunityID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inscriptions of an opportunity with their current phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListInscriptions(ctx, opportunityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(cmd.OutOrStdout())
					tw.AppendHeader(table.Row{"ID", "Agent", "#", "Phase", "Status", "Phase entry"})
					for _, s := range items {
						tw.AppendRow(table.Row{s.ID, s.AgentID, s.Current.SequenceNumber, s.Current.Name,
							statusLabel(s.Current.Status), s.Current.InscriptionPhaseID})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&opportunityID, "opportunity", "", "opportunity id")
	return cmd
}

func inscriptionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show inscription with every phase it reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				in, err := rt.Engine.GetInscription(ctx, args[0])
				if err != nil {
					return err
				}
				return printInscription(cmd, in)
			})
		},
	}
}

func inscriptionAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Move an approved inscription to the next open phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				ip, err := rt.Engine.Advance(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printInscriptionPhase(cmd, "Advanced to phase", ip)
			})
		},
	}
}

func inscriptionRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <id>",
		Short: "Return an inscription to its previous phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				ip, err := rt.Engine.RollbackPhase(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printInscriptionPhase(cmd, "Rolled back to phase", ip)
			})
		},
	}
}

func inscriptionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove inscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.RemoveInscription(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed inscription %s\n", args[0])
				return nil
			})
		},
	}
}

func inscriptionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <inscription-phase-id> <pending|approved|rejected|waitlisted>",
		Short: "Set the status of an inscription at its current phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				ip, err := rt.Engine.SetStatus(ctx, args[0], status, actorID())
				if err != nil {
					return err
				}
				return printInscriptionPhase(cmd, "Status set on", ip)
			})
		},
	}
}

func printInscription(cmd *cobra.Command, in domain.Inscription) error {
	return printJSONOrTable(cmd.OutOrStdout(), in, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  agent %s  opportunity %s\n", in.ID, in.AgentID, in.OpportunityID)
		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.AppendHeader(table.Row{"Phase entry", "Phase", "Status", "Version", "Updated"})
		for _, ip := range in.Phases {
			tw.AppendRow(table.Row{ip.ID, ip.PhaseID, statusLabel(ip.Status), ip.Version, formatTime(ip.UpdatedAt)})
		}
		tw.Render()
	})
}

func printInscriptionPhase(cmd *cobra.Command, verb string, ip domain.InscriptionPhase) error {
	return printJSONOrTable(cmd.OutOrStdout(), ip, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (entry %s, version %d)\n", verb, ip.PhaseID, statusLabel(ip.Status), ip.ID, ip.Version)
	})
}
