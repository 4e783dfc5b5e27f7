package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"aurora/internal/app"
	"aurora/internal/archive"
	"aurora/internal/timeline"
)

func timelineCmd() *cobra.Command {
	tl := &cobra.Command{Use: "timeline", Short: "Read and archive the change timeline"}
	tl.AddCommand(timelineListCmd())
	tl.AddCommand(timelineExportCmd())
	return tl
}

func timelineListCmd() *cobra.Command {
	var (
		q      timeline.Query
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the entries of one entity, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			after, err := timeline.ParseCursor(cursor)
			if err != nil {
				return err
			}
			q.After = after
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, next, err := rt.Engine.ListTimeline(ctx, q)
				if err != nil {
					return err
				}
				page := map[string]any{"items": items, "next_cursor": next.String()}
				return printJSONOrTable(cmd.OutOrStdout(), page, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(cmd.OutOrStdout())
					tw.AppendHeader(table.Row{"At", "Action", "Field", "From", "To", "Actor"})
					for _, e := range items {
						tw.AppendRow(table.Row{formatTime(e.At), e.Action, e.Field, e.From, e.To, e.ActorID})
					}
					tw.Render()
					if !next.IsZero() {
						fmt.Fprintf(cmd.OutOrStdout(), "more: --cursor '%s'\n", next)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&q.EntityType, "entity-type", "", "agent, opportunity, phase, inscription or inscription_phase")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this cursor")
	return cmd
}

func timelineExportCmd() *cobra.Command {
	var (
		q    timeline.Query
		key  string
		toS3 bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write matching entries as zstd-compressed JSON lines",
		Long: `Exports timeline entries, oldest first, to the workspace archive directory
or, with --s3, to the bucket configured under archive in aurora.yml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var store archive.Store = archive.FileStore{Dir: filepath.Join(rt.Workspace, ".aurora", "archive")}
				if toS3 {
					s3Store, err := archive.NewS3Store(ctx, rt.Config.Archive)
					if err != nil {
						return err
					}
					store = s3Store
				}
				if key == "" {
					key = archiveKey(q, time.Now())
				}
				m, err := archive.Exporter{Reader: rt.Engine.Reader}.Export(ctx, q, store, key)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), m, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries (%d bytes) to %s\n", m.Entries, m.Bytes, m.Key)
				})
			})
		},
	}
	cmd.Flags().StringVar(&q.EntityType, "entity-type", "", "restrict to one entity type")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "restrict to one entity id")
	cmd.Flags().StringVar(&key, "key", "", "object key (default timestamped)")
	cmd.Flags().BoolVar(&toS3, "s3", false, "upload to the configured S3 bucket")
	return cmd
}

func archiveKey(q timeline.Query, now time.Time) string {
	scope := "all"
	if q.EntityType != "" {
		scope = q.EntityType
		if q.EntityID != "" {
			scope += "-" + q.EntityID
		}
	}
	return fmt.Sprintf("%s/%s-%s.jsonl.zst", now.UTC().Format("2006/01"), scope, now.UTC().Format("20060102T150405Z"))
}
