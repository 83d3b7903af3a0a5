package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedsync/config"
	"github.com/hazyhaar/feedsync/gate"
	"github.com/hazyhaar/feedsync/mcpquic"
)

// Version is reported by the MCP server.
var Version = "0.1.0"

// withApp loads the config, wires a session and runs fn with a context
// cancelled on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger, appOptions{Location: location})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Run the startup sequence and print the resulting state",
	RunE: func(cmd *cobra.Command, args []string) error {
		withEpisodes, _ := cmd.Flags().GetBool("episodes")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, err := a.client.Start(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.client.View(withEpisodes))
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop cached episodes and stats and load them again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.client.Start(ctx)
			if err != nil {
				return err
			}
			if st != gate.Open {
				return fmt.Errorf("gate is %s: run `feedsync unlock` with --session %s", st, a.sessionID)
			}
			if err := a.client.Refresh(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.client.View(false))
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <passphrase>",
	Short: "Submit the gate passphrase for the session",
	Long: `Submits the passphrase and, on a match, records the unlock for the
session. Reuse the printed session id (--session) so later commands skip the
gate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.client.Start(ctx)
			if err != nil {
				return err
			}
			if st == gate.AwaitingInput {
				if err := a.client.Unlock(ctx, args[0]); err != nil {
					return err
				}
			}
			snap := a.client.State()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"session_id": a.sessionID,
				"gate":       snap.Gate,
				"status":     snap.Status,
			})
		})
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <location>",
	Short: "Resolve a location (fragment and query) to a page",
	Example: `  feedsync route '#phasen'
  feedsync route '/?ep=4#episoden'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		location = args[0]
		return withApp(cmd, func(ctx context.Context, a *app) error {
			page := a.nav.HandleRoute()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"location": a.loc.String(),
				"page":     page,
				"sort":     a.nav.Sort(),
			})
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print recent journaled events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		name, _ := cmd.Flags().GetString("name")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.journal.Recent(ctx, limit, name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local store",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached documents (and, with --sessions, gate unlocks)",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("sessions")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			target := a.store.Namespace("cache")
			if all {
				target = a.store
			}
			n := len(target.Keys(ctx))
			target.ClearNamespace(ctx)
			return printJSON(cmd.OutOrStdout(), map[string]any{"prefix": target.Prefix(), "removed": n})
		})
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}
		cfg := config.DefaultConfig()
		cfg.Feed.BaseURL, _ = cmd.Flags().GetString("base-url")
		if cfg.Feed.BaseURL != "" {
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if err := cfg.Save(cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgFile)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the feed tools over MCP (stdio, or QUIC with --quic)",
	Long: `Serves the feed tools on stdio, or on QUIC with --quic. The call and
tools subcommands are the matching QUIC client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		quicAddr, _ := cmd.Flags().GetString("quic")
		certFile, _ := cmd.Flags().GetString("tls-cert")
		keyFile, _ := cmd.Flags().GetString("tls-key")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, err := a.client.Start(ctx); err != nil {
				// The failure is on data:error and in feed_state; tools stay usable.
				a.logger.Warn("feedsync: startup failed", "error", err)
			}
			srv := mcp.NewServer(&mcp.Implementation{Name: "feedsync", Version: Version}, nil)
			a.client.RegisterMCP(srv)

			var err error
			if quicAddr != "" {
				err = serveQUIC(ctx, a, srv, quicAddr, certFile, keyFile)
			} else {
				a.logger.Info("feedsync: MCP server on stdio", "session_id", a.sessionID)
				err = srv.Run(ctx, &mcp.StdioTransport{})
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func serveQUIC(ctx context.Context, a *app, srv *mcp.Server, addr, certFile, keyFile string) error {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if certFile != "" && keyFile != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
	} else {
		a.logger.Warn("feedsync: no TLS key pair, using a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return err
	}
	l, err := mcpquic.NewListener(addr, tlsCfg, srv, a.logger)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Serve(ctx)
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call a tool on a remote feedsync MCP server over QUIC",
	Example: `  feedsync mcp call feed_state '{"include_episodes":true}' --addr feed.example:9444
  feedsync mcp call feed_reload --addr 127.0.0.1:9444 --insecure`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := ""
		if len(args) == 2 {
			raw = args[1]
		}
		return withRemote(cmd, func(ctx context.Context, c *mcpquic.Client) error {
			return callRemote(ctx, cmd.OutOrStdout(), c, args[0], raw)
		})
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of a remote feedsync MCP server over QUIC",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, func(ctx context.Context, c *mcpquic.Client) error {
			names, err := c.Tools(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), names)
		})
	},
}

// withRemote dials the --addr listener. It needs no local store or config.
func withRemote(cmd *cobra.Command, fn func(ctx context.Context, c *mcpquic.Client) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	insecure, _ := cmd.Flags().GetBool("insecure")
	if addr == "" {
		return errors.New("--addr is required")
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := mcpquic.Dial(ctx, addr, mcpquic.ClientTLSConfig(insecure))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// callRemote decodes rawArgs (a JSON object, may be empty) and writes the
// tool's JSON output.
func callRemote(ctx context.Context, w io.Writer, c *mcpquic.Client, tool, rawArgs string) error {
	var args map[string]any
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	out, err := c.Call(ctx, tool, args)
	if err != nil {
		return err
	}
	var v any
	if json.Unmarshal([]byte(out), &v) != nil {
		_, err = fmt.Fprintln(w, out)
		return err
	}
	return printJSON(w, v)
}

func init() {
	for _, c := range []*cobra.Command{mcpCallCmd, mcpToolsCmd} {
		c.Flags().String("addr", "", "host:port of a listener started with mcp --quic")
		c.Flags().Bool("insecure", false, "skip certificate verification (self-signed listeners)")
	}
	mcpCmd.AddCommand(mcpCallCmd, mcpToolsCmd)

	loadCmd.Flags().Bool("episodes", false, "include the episode list")
	eventsCmd.Flags().Int("limit", 20, "number of events")
	eventsCmd.Flags().String("name", "", "only events with this name, e.g. gate:open")
	cacheClearCmd.Flags().Bool("sessions", false, "also clear gate unlocks of every session")
	initCmd.Flags().String("base-url", "", "feed base URL")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	mcpCmd.Flags().String("quic", "", "serve MCP over QUIC on this address instead of stdio, e.g. :9444")
	mcpCmd.Flags().String("tls-cert", "", "TLS certificate for --quic")
	mcpCmd.Flags().String("tls-key", "", "TLS key for --quic")

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(loadCmd, refreshCmd, unlockCmd, routeCmd, eventsCmd, cacheCmd, initCmd, mcpCmd)
}
