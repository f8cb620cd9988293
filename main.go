// Command autovod records one streamer's live stream around the clock.
//
// It loads "<name>.config" (or "configs/<name>.config"), then loops forever:
// capture the stream with streamlink, deliver it to the configured backend
// (youtube, rclone, restream or local), wait, repeat. Process settings come
// from the environment (see config.Settings). When HTTP_ADDR is set the
// process also serves /healthz, /readyz, /status and /metrics.
//
// Exit status is 0 after SIGINT/SIGTERM and 1 on configuration errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/subculture-collective/autovod/capture"
	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/oauth"
	"github.com/subculture-collective/autovod/schedule"
	"github.com/subculture-collective/autovod/server"
	"github.com/subculture-collective/autovod/telemetry"
	"github.com/subculture-collective/autovod/youtubeapi"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("autovod exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:           "autovod",
		Short:         "Capture a live stream forever and deliver every capture",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), name)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "streamer name")
	return cmd
}

func run(ctx context.Context, name string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	telemetry.SetupLogger(settings.LogLevel, settings.LogFormat)

	name, err = streamerName(name, settings.StreamerName, inContainer())
	if err != nil {
		return err
	}
	slog.Info("selected streamer", slog.String("name", name))

	cfgPath, err := findConfig(name, settings.ConfigDir)
	if err != nil {
		return err
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("autovod", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := schedule.Policy{Interval: settings.RetryInterval, Jitter: settings.RetryJitter}
	orch, err := capture.New(capture.Options{
		Streamer:   name,
		ConfigPath: cfgPath,
		Policy:     &policy,
		SecretsDir: settings.SecretsDir,
		WorkDir:    settings.WorkDir,
		MetaDir:    settings.MetaDir,
	})
	if err != nil {
		return err
	}

	if orch.Status().Backend == capture.BackendYouTube && settings.TokenRefreshInterval > 0 {
		startTokenRefresher(ctx, settings)
	}

	if settings.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, settings.HTTPAddr, server.NewMux(orch)); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	if err := orch.Run(ctx); err != nil {
		return err
	}
	slog.Info("shutting down")
	return nil
}

// startTokenRefresher keeps the YouTube token cache valid between uploads.
// A missing secrets file only disables the refresher; the uploader reports
// its own errors at dispatch.
func startTokenRefresher(ctx context.Context, settings *config.Settings) {
	svc, err := youtubeapi.New(
		filepath.Join(settings.SecretsDir, capture.YouTubeSecretsFile),
		filepath.Join(settings.SecretsDir, capture.YouTubeTokenFile),
	)
	if err != nil {
		slog.Warn("youtube token refresher disabled", slog.Any("err", err))
		return
	}
	r := &oauth.Refresher{
		Provider: "youtube",
		Store:    svc.Store(),
		Refresh:  svc.RefreshToken,
		Interval: settings.TokenRefreshInterval,
		Window:   settings.TokenRefreshWindow,
	}
	go r.Run(ctx)
}

var errNoName = errors.New("missing required argument: -n STREAMER_NAME")

// streamerName picks the -n flag, falling back to STREAMER_NAME only inside a
// container where passing flags is awkward.
func streamerName(flag, env string, container bool) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if container && env != "" {
		return env, nil
	}
	return "", errNoName
}

func inContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

// findConfig looks for "<name>.config" in the working directory, then in configDir.
func findConfig(name, configDir string) (string, error) {
	candidates := []string{name + ".config", filepath.Join(configDir, name+".config")}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("config file is missing: tried %v", candidates)
}
