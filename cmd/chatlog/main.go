// Command chatlog records live chat feeds into append-only text files under
// CHAT_DIR/<source>/<name>.txt, reconnecting forever.
//
//	chatlog ws --url wss://chat.destiny.gg/ws --name destiny
//	chatlog kick gogirl xqc
//	chatlog twitch somechannel
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/subculture-collective/autovod/chat"
	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/schedule"
	"github.com/subculture-collective/autovod/server"
	"github.com/subculture-collective/autovod/telemetry"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("chatlog exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatlog",
		Short:         "Record live chat into append-only logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var url, name string
	ws := &cobra.Command{
		Use:   "ws --url URL --name NAME",
		Short: "Record every text frame of a websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return record(cmd.Context(), map[string]chat.Dialer{name: &chat.WebsocketDialer{URL: url}})
		},
	}
	ws.Flags().StringVar(&url, "url", "", "websocket URL")
	ws.Flags().StringVar(&name, "name", "", "log name")
	_ = ws.MarkFlagRequired("url")
	_ = ws.MarkFlagRequired("name")

	kick := &cobra.Command{
		Use:   "kick NAME...",
		Short: "Record Kick chatrooms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialers := make(map[string]chat.Dialer, len(args))
			for _, n := range args {
				dialers[n] = &chat.KickDialer{Channel: n}
			}
			return record(cmd.Context(), dialers)
		},
	}

	twitch := &cobra.Command{
		Use:   "twitch NAME...",
		Short: "Record Twitch channels anonymously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialers := make(map[string]chat.Dialer, len(args))
			for _, n := range args {
				dialers[n] = &chat.TwitchDialer{Channel: n}
			}
			return record(cmd.Context(), dialers)
		},
	}

	root.AddCommand(ws, kick, twitch)
	return root
}

// record runs one reader per dialer until a signal arrives.
func record(ctx context.Context, dialers map[string]chat.Dialer) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	telemetry.SetupLogger(settings.LogLevel, settings.LogFormat)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, settings.HTTPAddr, server.NewMux(nil)); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	policy := schedule.Policy{Interval: settings.ReconnectInterval, Jitter: settings.ReconnectJitter}
	g, gctx := errgroup.WithContext(ctx)
	for name, d := range dialers {
		r := &chat.Reader{
			Name:   name,
			Path:   logPath(settings.ChatDir, d.Source(), name),
			Dialer: d,
			Policy: policy,
		}
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return fmt.Errorf("%s/%s: %w", d.Source(), name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func logPath(dir, source, name string) string {
	return filepath.Join(dir, source, name+".txt")
}
