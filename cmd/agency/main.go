package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/agents"
	"github.com/aixgo-dev/agency/pkg/config"
	"github.com/aixgo-dev/agency/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "agency",
		Short:        "Run and talk to channels on a shared space",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", getEnv("AGENCY_CONFIG", "agency.yaml"), "configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(&configFile),
		newSendCmd(&configFile),
		newDiscoverCmd(&configFile),
		newInitCmd(&configFile),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(configFile *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the configured channels until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Observability.MetricsAddr = metricsAddr
			}
			observability.SetVersion(Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting agency", "version", Version, "config", *configFile)
			if err := agency.RunWithConfig(ctx, cfg); err != nil {
				return err
			}
			slog.Info("agency stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", getEnv("AGENCY_METRICS_ADDR", ""), "serve metrics and health on this address (\":9090\")")
	return cmd
}

func newSendCmd(configFile *string) *cobra.Command {
	var (
		from    string
		to      string
		action  string
		rawArgs string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one envelope and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := connect(ctx, *configFile, from)
			if err != nil {
				return err
			}
			defer client.close()

			env := agent.NewEnvelope(to, action, args)
			if err := client.ch.Send(ctx, env); err != nil {
				return err
			}
			reply, err := client.waitReply(ctx, env.Meta.ID)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					fmt.Fprintln(cmd.OutOrStdout(), "sent, no reply")
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), agents.Format(reply))
			if reply.Action == agent.ActionError {
				return fmt.Errorf("%v", reply.Args["code"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "cli", "sender channel id")
	cmd.Flags().StringVar(&to, "to", "", "destination address")
	cmd.Flags().StringVar(&action, "action", "", "action to invoke")
	cmd.Flags().StringVar(&rawArgs, "args", "", "action arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for a reply")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newDiscoverCmd(configFile *string) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the live channels and the actions they announce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait+5*time.Second)
			defer cancel()
			client, err := connect(ctx, *configFile, "cli")
			if err != nil {
				return err
			}
			defer client.close()

			if err := client.ch.Discover(ctx); err != nil {
				return err
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			peers := client.ch.Peers()
			ids := make([]string, 0, len(peers))
			for id := range peers {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no channels answered")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
				for _, info := range peers[id] {
					fmt.Fprintf(out, "  %-16s %-12s %s\n", info.Name, info.Policy, info.Help)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", time.Second, "how long to collect announcements")
	return cmd
}

func newInitCmd(configFile *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(*configFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", *configFile)
			}
			if err := config.SaveConfig(config.Default(), *configFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agency %s\n", Version)
		},
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
