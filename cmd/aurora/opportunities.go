package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"

	"aurora/internal/app"
	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/repo"
)

func opportunityCmd() *cobra.Command {
	op := &cobra.Command{
		Use:     "opportunity",
		Aliases: []string{"opp"},
		Short:   "Manage opportunities and their phases",
	}
	op.AddCommand(opportunityCreateCmd())
	op.AddCommand(opportunityListCmd())
	op.AddCommand(opportunityShowCmd())
	op.AddCommand(opportunityUpdateCmd())
	op.AddCommand(opportunityRemoveCmd())
	return op
}

// parsePhaseFlag reads "name,opens_at,closes_at". The name may itself contain commas.
func parsePhaseFlag(raw string) (engine.PhaseInput, error) {
	last := strings.LastIndex(raw, ",")
	if last < 0 {
		return engine.PhaseInput{}, fmt.Errorf("--phase %q must be name,opens_at,closes_at", raw)
	}
	mid := strings.LastIndex(raw[:last], ",")
	if mid < 0 {
		return engine.PhaseInput{}, fmt.Errorf("--phase %q must be name,opens_at,closes_at", raw)
	}
	opens, err := parseTimeFlag("phase", raw[mid+1:last])
	if err != nil {
		return engine.PhaseInput{}, err
	}
	closes, err := parseTimeFlag("phase", raw[last+1:])
	if err != nil {
		return engine.PhaseInput{}, err
	}
	return engine.PhaseInput{Name: strings.TrimSpace(raw[:mid]), OpensAt: opens, ClosesAt: closes}, nil
}

func opportunityCreateCmd() *cobra.Command {
	var (
		name, createdBy, openAt, closeAt string
		phases                           []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create opportunity",
		Example: `  aurora opportunity create --name "Open Call 2024" --created-by <agent-id> \
    --open-at 2024-03-01T00:00:00Z --close-at 2024-04-01T00:00:00Z \
    --phase "Application,2024-03-01T00:00:00Z,2024-03-15T00:00:00Z" \
    --phase "Interview,2024-03-15T00:00:00Z,2024-04-01T00:00:00Z"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.OpportunityInput{Name: name, CreatedBy: createdBy}
			var err error
			if in.OpenAt, err = parseTimeFlag("open-at", openAt); err != nil {
				return err
			}
			if in.CloseAt, err = parseTimeFlag("close-at", closeAt); err != nil {
				return err
			}
			for _, raw := range phases {
				p, err := parsePhaseFlag(raw)
				if err != nil {
					return err
				}
				in.Phases = append(in.Phases, p)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				o, err := rt.Engine.CreateOpportunity(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printOpportunity(cmd, o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "opportunity name")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "creating agent id")
	cmd.Flags().StringVar(&openAt, "open-at", "", "application window start (RFC3339)")
	cmd.Flags().StringVar(&closeAt, "close-at", "", "application window end (RFC3339)")
	cmd.Flags().StringArrayVar(&phases, "phase", nil, "phase as name,opens_at,closes_at; repeat in order")
	return cmd
}

// rankOpportunities keeps the opportunities whose name fuzzily matches query,
// best match first.
func rankOpportunities(query string, items []domain.Opportunity) []domain.Opportunity {
	query = strings.TrimSpace(query)
	if query == "" {
		return items
	}
	names := make([]string, len(items))
	for i, o := range items {
		names[i] = o.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)
	out := make([]domain.Opportunity, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, items[r.OriginalIndex])
	}
	return out
}

func opportunityListCmd() *cobra.Command {
	var (
		f      repo.OpportunityFilters
		search string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List opportunities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListOpportunities(ctx, f)
				if err != nil {
					return err
				}
				items = rankOpportunities(search, items)
				return printJSONOrTable(cmd.OutOrStdout(), items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(cmd.OutOrStdout())
					tw.AppendHeader(table.Row{"ID", "Name", "Slug", "Opens", "Closes"})
					for _, o := range items {
						tw.AppendRow(table.Row{o.ID, o.Name, o.Slug, formatTime(o.OpenAt), formatTime(o.CloseAt)})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creating agent filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&search, "search", "", "fuzzy match on name")
	return cmd
}

func opportunityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show opportunity with its phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				o, err := rt.Engine.GetOpportunity(ctx, args[0])
				if err != nil {
					return err
				}
				return printOpportunity(cmd, o)
			})
		},
	}
}

func opportunityUpdateCmd() *cobra.Command {
	var name, openAt, closeAt string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update opportunity name or window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.OpportunityUpdate{Name: optionalString(cmd, "name", name)}
			var err error
			if upd.OpenAt, err = optionalTime(cmd, "open-at", openAt); err != nil {
				return err
			}
			if upd.CloseAt, err = optionalTime(cmd, "close-at", closeAt); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				o, err := rt.Engine.UpdateOpportunity(ctx, args[0], upd, actorID())
				if err != nil {
					return err
				}
				return printOpportunity(cmd, o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&openAt, "open-at", "", "new window start (RFC3339)")
	cmd.Flags().StringVar(&closeAt, "close-at", "", "new window end (RFC3339)")
	return cmd
}

func opportunityRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.RemoveOpportunity(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed opportunity %s\n", args[0])
				return nil
			})
		},
	}
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Manage phases"}
	var name, opensAt, closesAt string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a phase no inscription has reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.PhaseUpdate{Name: optionalString(cmd, "name", name)}
			var err error
			if upd.OpensAt, err = optionalTime(cmd, "opens-at", opensAt); err != nil {
				return err
			}
			if upd.ClosesAt, err = optionalTime(cmd, "closes-at", closesAt); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.UpdatePhase(ctx, args[0], upd, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), p, func() {
					printPhases(cmd, []domain.Phase{p})
				})
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "new name")
	update.Flags().StringVar(&opensAt, "opens-at", "", "new window start (RFC3339)")
	update.Flags().StringVar(&closesAt, "closes-at", "", "new window end (RFC3339)")
	ph.AddCommand(update)
	return ph
}

func printOpportunity(cmd *cobra.Command, o domain.Opportunity) error {
	return printJSONOrTable(cmd.OutOrStdout(), o, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", o.ID, o.Name, o.Slug)
		fmt.Fprintf(cmd.OutOrStdout(), "window %s .. %s\n", formatTime(o.OpenAt), formatTime(o.CloseAt))
		printPhases(cmd, o.Phases)
	})
}

func printPhases(cmd *cobra.Command, phases []domain.Phase) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"#", "Phase", "ID", "Opens", "Closes"})
	for _, p := range phases {
		tw.AppendRow(table.Row{p.SequenceNumber, p.Name, p.ID, formatTime(p.OpensAt), formatTime(p.ClosesAt)})
	}
	tw.Render()
}
