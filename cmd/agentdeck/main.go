// Command agentdeck runs the query-orchestration service for desktop
// clients, or fires a one-shot prompt from the terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentdeck/attachment"
	"github.com/bazelment/agentdeck/channel"
	"github.com/bazelment/agentdeck/conductor"
	"github.com/bazelment/agentdeck/httpapi"
	"github.com/bazelment/agentdeck/settings"
	"github.com/bazelment/agentdeck/transcript"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "agentdeck",
		Short:         "Query orchestration for coding-assistant sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "agentdeck.yaml", "settings file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(), newAskCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildConductor(logger *slog.Logger) (*conductor.Conductor, settings.Defaults, error) {
	provider, err := settings.NewFileProvider(flagConfig)
	if err != nil {
		return nil, settings.Defaults{}, err
	}
	d := provider.Defaults()

	ch := channel.NewSubprocessChannel(
		channel.WithCLIPath(d.CLIPath),
		channel.WithLogger(logger),
	)

	var store transcript.Store
	if d.DBPath != "" {
		store, err = transcript.NewSQLiteStore(d.DBPath)
		if err != nil {
			return nil, settings.Defaults{}, fmt.Errorf("open transcript store: %w", err)
		}
	} else {
		store = transcript.NewMemoryStore()
	}

	cond := conductor.NewConductor(ch, store,
		conductor.WithLogger(logger),
		conductor.WithDefaultModel(d.Model),
		conductor.WithDefaultPermissionMode(d.PermissionMode),
		conductor.WithDefaultMaxTurns(d.MaxTurns),
	)
	return cond, d, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for desktop clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cond, d, err := buildConductor(logger)
			if err != nil {
				return err
			}
			defer cond.Close()

			if addr == "" {
				addr = d.ListenAddr
			}
			api := httpapi.NewServer(cond, &attachment.GlobResolver{}, d.BaseDir, logger)
			srv := &http.Server{Addr: addr, Handler: api.Router()}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()

			logger.Info("listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides settings)")
	return cmd
}

func newAskCmd() *cobra.Command {
	var workDir string
	var attachRefs []string
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run one prompt and print the assistant's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cond, d, err := buildConductor(logger)
			if err != nil {
				return err
			}
			defer cond.Close()

			if workDir == "" {
				workDir = d.BaseDir
			}
			var sessOpts []conductor.SessionOption
			if workDir != "" {
				sessOpts = append(sessOpts, conductor.WithWorkDir(workDir))
			}
			snap, err := cond.CreateSession(sessOpts...)
			if err != nil {
				return err
			}

			var sendOpts []conductor.SendOption
			if len(attachRefs) > 0 {
				resolver := &attachment.GlobResolver{}
				res, err := resolver.Resolve(workDir, attachRefs)
				if err != nil {
					return err
				}
				if len(res.Unresolved) > 0 {
					verr := &conductor.ValidationError{
						Message: "unresolved attachments: " + strings.Join(res.Unresolved, ", "),
					}
					fmt.Fprintln(os.Stderr, "warning:", verr)
				}
				sendOpts = append(sendOpts, conductor.WithAttachments(res.Files))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			text, err := cond.Ask(ctx, snap.ID, args[0], sendOpts...)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&workDir, "dir", "", "working directory for the session")
	cmd.Flags().StringSliceVar(&attachRefs, "attach", nil, "file or glob to inline (repeatable)")
	return cmd
}
