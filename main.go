// Package main runs the news summariser: a service that summarises the most
// read articles each day, lets an admin review the draft, and emails the
// published summary to verified subscribers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"news-summariser/auth"
	"news-summariser/config"
	"news-summariser/pipeline"
	"news-summariser/server"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "news-summariser",
		Short:        "Daily news summaries for email subscribers",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	root.AddCommand(serveCmd(), runCmd(), publishCmd(), hashPasswordCmd())
	return root
}

// newLogger returns a JSON logger at level. Unknown levels mean info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// setup loads configuration, installs the logger and wires the services.
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Get(config.LogLevel))
	slog.SetDefault(logger)

	return newApp(ctx, cfg, logger)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = a.cfg.Get(config.Port)
			}

			srv := server.New(&server.Config{
				Runner:           a.runner,
				Publisher:        a.publisher,
				Subscriptions:    a.subs,
				Auth:             a.auth,
				Drafts:           a.drafts,
				Published:        a.published,
				Logger:           a.logger,
				CORSOriginSuffix: a.cfg.Get(config.CORSOriginSuffix),
				RunToken:         a.cfg.Get(config.RunToken),
			})
			err = srv.ListenAndServe(ctx, port)

			a.logger.Info("Waiting for email dispatch to finish")
			a.publisher.Wait()
			return err
		},
	}
	cmd.Flags().String("port", "", "listen port (default $PORT or 8080)")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect today's articles and save a draft summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				articles, err := a.collector.Collect(ctx)
				if err != nil {
					return err
				}
				type item struct {
					Title    string `json:"title"`
					URL      string `json:"url"`
					Visitors int    `json:"visitors"`
					Chars    int    `json:"chars"`
				}
				items := make([]item, 0, len(articles))
				for _, art := range articles {
					items = append(items, item{Title: art.Title, URL: art.URL, Visitors: art.VisitorCount, Chars: len(art.Content)})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}

			key, err := a.runner.Run(ctx)
			if errors.Is(err, pipeline.ErrNoArticles) {
				a.logger.Info("No articles to summarise")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "list the collected articles without summarising or saving")
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the current draft and email it to active subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			key, summary, err := a.publisher.Publish(ctx, nil)
			if err != nil {
				return err
			}
			a.publisher.Wait()

			a.logger.Info("Published", "key", key, "source_articles", len(summary.SourceArticles))
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for an admin password",
		Long:  "Prints a bcrypt hash for ADMIN_PASSWORD_HASH or the admins table.\nReads the password from standard input when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if sc.Scan() {
					password = sc.Text()
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			hash, err := auth.HashPassword(strings.TrimRight(password, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
