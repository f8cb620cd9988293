package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/pipeline"
	"github.com/subculture-collective/autovod/telemetry"
	"github.com/subculture-collective/autovod/youtubeapi"
)

// Delivery backends selected by UPLOAD_SERVICE.
const (
	BackendYouTube  = "youtube"
	BackendRclone   = "rclone"
	BackendRestream = "restream"
	BackendLocal    = "local"
)

// Credential files of the youtube backend, relative to the secrets dir.
const (
	YouTubeSecretsFile = "client_secrets_autovod.json"
	YouTubeTokenFile   = "request_autovod.token"
)

// UploadMethodAPI selects the in-process YouTube uploader.
const UploadMethodAPI = "api"

// Uploader streams a capture to YouTube. *youtubeapi.Service implements it.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, m youtubeapi.Metadata) (string, error)
}

// job is what a backend needs to run one delivery.
type job struct {
	cfg      *config.Config
	streamer string
	url      string
	duration string
	runner   pipeline.Runner
	log      *slog.Logger
}

type backend interface {
	name() string
	// requiredFiles must exist before every dispatch.
	requiredFiles() []string
	// deliver runs the pipeline; nil means the capture was delivered.
	deliver(ctx context.Context, j job) error
}

func newBackend(name string, o *Orchestrator) (backend, error) {
	switch name {
	case BackendYouTube:
		b := &youtubeBackend{
			secrets:    filepath.Join(o.opts.SecretsDir, YouTubeSecretsFile),
			token:      filepath.Join(o.opts.SecretsDir, YouTubeTokenFile),
			configPath: o.opts.ConfigPath,
			metaDir:    o.opts.MetaDir,
			uploader:   o.opts.Uploader,
		}
		return b, nil
	case BackendRclone:
		return &rcloneBackend{workDir: o.opts.WorkDir}, nil
	case BackendRestream:
		return restreamBackend{}, nil
	case BackendLocal:
		return &localBackend{workDir: o.opts.WorkDir}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
}

// captureStages builds the streamlink stage and, when asked and RE_ENCODE is
// enabled, the ffmpeg re-encode stage.
func captureStages(c *config.Config, url, duration string, reencode bool) []pipeline.Stage {
	args := []string{url, c.GetOr(config.KeyStreamlinkQuality, "best")}
	if duration != "" && duration != DefaultDuration {
		args = append(args, "--hls-duration", duration)
	}
	if lvl := c.Get(config.KeyStreamlinkLogs); lvl != "" {
		args = append(args, "--loglevel", lvl)
	}
	args = append(args, streamlinkFlags(c)...)
	args = append(args, "--stdout")
	stages := []pipeline.Stage{{Program: "streamlink", Args: args}}

	if reencode && c.IsTrue(config.KeyReEncode) {
		preset := c.GetOr(config.KeyReEncodePreset, c.Get(config.KeyReEncodePresetLegacy))
		stages = append(stages, pipeline.Stage{Program: "ffmpeg", Args: []string{
			"-i", "pipe:0",
			"-c:v", c.Get(config.KeyReEncodeCodec),
			"-crf", c.Get(config.KeyReEncodeCRF),
			"-preset", preset,
			"-hide_banner",
			"-loglevel", c.GetOr(config.KeyReEncodeLog, "error"),
			"-f", "matroska",
			"pipe:1",
		}})
	}
	return stages
}

// streamlinkFlags splits every flag item on whitespace so "--retry-streams 30"
// becomes two arguments.
func streamlinkFlags(c *config.Config) []string {
	v, ok := c.Lookup(config.KeyStreamlinkFlags)
	if !ok {
		return nil
	}
	if !v.IsList {
		return strings.Fields(v.Str)
	}
	var out []string
	for _, f := range v.List {
		out = append(out, strings.Fields(f)...)
	}
	return out
}

func inDir(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// youtube ------------------------------------------------------------------

type youtubeBackend struct {
	secrets    string
	token      string
	configPath string
	metaDir    string
	uploader   Uploader
}

func (b *youtubeBackend) name() string { return BackendYouTube }

func (b *youtubeBackend) requiredFiles() []string {
	files := []string{b.secrets, b.token}
	if b.configPath != "" {
		files = append(files, b.configPath)
	}
	return files
}

func (b *youtubeBackend) deliver(ctx context.Context, j job) error {
	c := j.cfg
	meta := youtubeapi.Metadata{
		Title:          c.Get(config.KeyVideoTitle),
		PrivacyStatus:  c.Get(config.KeyVideoVisibility),
		Description:    c.Get(config.KeyVideoDescription),
		PlaylistTitles: []string{},
	}
	if pl := c.Get(config.KeyVideoPlaylist); pl != "" {
		meta.PlaylistTitles = append(meta.PlaylistTitles, pl)
	}
	p := pipeline.Pipeline{Stages: captureStages(c, j.url, j.duration, false)}

	if c.Get(config.KeyYouTubeUploadMethod) == UploadMethodAPI {
		up, err := b.api()
		if err != nil {
			return err
		}
		p.Sink = func(ctx context.Context, r io.Reader) error {
			url, err := up.Upload(ctx, r, meta)
			if err != nil {
				return err
			}
			j.log.Info("youtube video created", slog.String("url", url))
			return nil
		}
	} else {
		metaFile := filepath.Join(b.metaDir, "input."+j.streamer)
		if err := meta.WriteFile(metaFile); err != nil {
			return err
		}
		p = p.Then(pipeline.Stage{Program: "youtubeuploader", Args: []string{
			"-secrets", b.secrets,
			"-cache", b.token,
			"-metaJSON", metaFile,
			"-filename", "-",
		}})
	}

	j.log.Debug("dispatch", slog.String("pipeline", p.String()))
	if err := j.runner.Run(ctx, p); err != nil {
		j.log.Warn("youtube upload failed", slog.Any("err", err))
		return err
	}
	j.log.Info("stream uploaded to youtube", slog.String("title", meta.Title))
	return nil
}

func (b *youtubeBackend) api() (Uploader, error) {
	if b.uploader != nil {
		return b.uploader, nil
	}
	svc, err := youtubeapi.New(b.secrets, b.token)
	if err != nil {
		return nil, err
	}
	b.uploader = svc
	return svc, nil
}

// rclone -------------------------------------------------------------------

type rcloneBackend struct {
	workDir string
}

func (b *rcloneBackend) name() string           { return BackendRclone }
func (b *rcloneBackend) requiredFiles() []string { return nil }

func (b *rcloneBackend) deliver(ctx context.Context, j job) error {
	c := j.cfg
	tmp, err := tempName(b.workDir, "stream.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	capture := pipeline.Pipeline{Stages: captureStages(c, j.url, j.duration, true), Output: tmp}
	j.log.Debug("dispatch", slog.String("pipeline", capture.String()))
	if err := j.runner.Run(ctx, capture); err != nil {
		// A partial capture is still worth copying.
		j.log.Warn("streamlink or ffmpeg failed", slog.Any("err", err))
	} else {
		j.log.Info("stream saved to disk", slog.String("file", tmp))
	}

	dest := fmt.Sprintf("%s:%s/%s.%s",
		c.Get(config.KeyRcloneRemote), c.Get(config.KeyRcloneDir),
		c.Get(config.KeyRcloneFilename), c.Get(config.KeyRcloneFileExt))
	copyto := pipeline.Pipeline{Stages: []pipeline.Stage{{Program: "rclone", Args: []string{"copyto", tmp, dest}}}}
	if err := j.runner.Run(ctx, copyto); err != nil {
		j.log.Warn("rclone failed uploading the stream", slog.String("dest", dest), slog.Any("err", err))
		if c.IsTrue(config.KeySaveOnFail) {
			failed, perr := preserve(tmp, b.workDir, "stream_failed_"+j.streamer+".*")
			if perr != nil {
				j.log.Error("could not keep failed capture", slog.String("file", tmp), slog.Any("err", perr))
			} else {
				telemetry.IncPreserved(BackendRclone)
				j.log.Info("temp file renamed", slog.String("file", failed))
			}
		} else if rerr := os.Remove(tmp); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			j.log.Warn("remove temp file", slog.String("file", tmp), slog.Any("err", rerr))
		}
		return fmt.Errorf("rclone copyto: %w", err)
	}

	j.log.Info("stream uploaded to rclone", slog.String("dest", dest))
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.log.Warn("remove temp file", slog.String("file", tmp), slog.Any("err", err))
	}
	return nil
}

// tempName reserves a unique file name matching pattern in dir.
func tempName(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// preserve moves src to a fresh unique name matching pattern.
func preserve(src, dir, pattern string) (string, error) {
	dst, err := tempName(dir, pattern)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// restream -----------------------------------------------------------------

type restreamBackend struct{}

func (restreamBackend) name() string           { return BackendRestream }
func (restreamBackend) requiredFiles() []string { return nil }

func (restreamBackend) deliver(ctx context.Context, j job) error {
	c := j.cfg
	target := c.Get(config.KeyRTMPSURL) + c.Get(config.KeyRTMPSStreamKey)
	p := pipeline.Pipeline{Stages: captureStages(c, j.url, j.duration, false)}.Then(pipeline.Stage{
		Program: "ffmpeg",
		Args: []string{
			"-re", "-i", "-",
			"-ar", c.Get(config.KeyAudioBitrate),
			"-acodec", c.Get(config.KeyAudioCodec),
			"-vcodec", "copy",
			"-f", c.Get(config.KeyFileFormat),
			target,
		},
	})
	if err := j.runner.Run(ctx, p); err != nil {
		j.log.Warn("ffmpeg failed re-streaming the stream", slog.Any("err", err))
		return err
	}
	j.log.Info("stream re-streamed", slog.String("channel", c.Get(config.KeyRTMPSChannel)))
	return nil
}

// local --------------------------------------------------------------------

type localBackend struct {
	workDir string
}

func (b *localBackend) name() string           { return BackendLocal }
func (b *localBackend) requiredFiles() []string { return nil }

func (b *localBackend) deliver(ctx context.Context, j job) error {
	c := j.cfg
	name := inDir(b.workDir, c.Get(config.KeyLocalFilename))
	ext := c.Get(config.KeyLocalExtension)
	out := name + "." + ext

	p := pipeline.Pipeline{Stages: captureStages(c, j.url, j.duration, true), Output: out}
	j.log.Debug("dispatch", slog.String("pipeline", p.String()))
	if err := j.runner.Run(ctx, p); err != nil {
		j.log.Warn("streamlink or ffmpeg failed saving the stream to disk", slog.Any("err", err))
		if c.IsTrue(config.KeySaveOnFail) {
			failed := name + "_failed." + ext
			if _, serr := os.Stat(out); serr == nil {
				if rerr := os.Rename(out, failed); rerr != nil {
					j.log.Error("could not keep failed capture", slog.String("file", out), slog.Any("err", rerr))
				} else {
					telemetry.IncPreserved(BackendLocal)
					j.log.Info("local failed file renamed", slog.String("file", failed))
				}
			}
		}
		return err
	}

	attrs := []any{slog.String("file", out)}
	if fi, err := os.Stat(out); err == nil {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(fi.Size())))) //nolint:gosec // G115: file sizes are non-negative
	}
	j.log.Info("stream saved to disk", attrs...)
	return nil
}
