// Command doctor-search runs the doctor search proxy.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/doctor-search-proxy/pkg/config"
	"github.com/Sternrassler/doctor-search-proxy/pkg/logging"
	"github.com/Sternrassler/doctor-search-proxy/pkg/server"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "doctor-search",
		Short:         "Cache-through doctor search proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSearchCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	return cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("version", Version).
				Str("backend", a.index.Name()).
				Str("addr", cfg.Server.Addr()).
				Msg("Starting doctor search proxy")
			return a.server().Run(ctx)
		},
	}
}

func newSearchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "Run one search and print the response envelope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSearch(cmd.Context(), a.service, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func runSearch(ctx context.Context, s server.Searcher, name string, out io.Writer) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(server.MsgEmptyName)
	}

	res := s.Search(ctx, name)
	env := server.Envelope{Status: res.Status, Data: res.Message}
	if res.OK() {
		env.Data = res.Records
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("search failed with status %d: %s", res.Status, res.Message)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
