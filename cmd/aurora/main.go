package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aurora/internal/app"
	"aurora/internal/db"
)

const envPrefix = "AURORA"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aurora",
		Short: "Aurora inscription workflow",
		Long: `Aurora moves agents' inscriptions through the ordered phases of an opportunity.
- Agent: an applicant owned by a user account.
- Opportunity: a call with an application window and an ordered list of phases, each with its own window.
- Inscription: one agent applying to one opportunity. It starts pending in the first phase.
- Status: pending can become approved, rejected or waitlisted; waitlisted can become approved or rejected.
- Advance: an approved inscription moves to the next phase once that phase is open.
- Timeline: every change is appended with who made it and when. View it with 'aurora timeline list'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			// workspace .env never overrides variables already set
			if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	addPersistentFlags(root)
	root.AddCommand(configCmd())
	root.AddCommand(actorCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(opportunityCmd())
	root.AddCommand(phaseCmd())
	root.AddCommand(inscriptionCmd())
	root.AddCommand(timelineCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(serveCmd())
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("actor-id", "local-user", "actor recorded on timeline entries")
	_ = viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", root.PersistentFlags().Lookup("actor-id"))
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Bootstrap(ctx, viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func printJSONOrTable(w io.Writer, v any, table func()) error {
	if viper.GetBool("json") || table == nil {
		return printJSON(w, v)
	}
	table()
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setEnvValue sets key in the dotenv file at path, keeping every other entry.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func optionalTime(cmd *cobra.Command, flag, value string) (*time.Time, error) {
	if !cmd.Flags().Changed(flag) {
		return nil, nil
	}
	t, err := parseTimeFlag(flag, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTimeFlag(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be an RFC3339 timestamp: %w", flag, err)
	}
	return t.UTC(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
