package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/metadata"
	"github.com/subculture-collective/autovod/pipeline"
	"github.com/subculture-collective/autovod/schedule"
	"github.com/subculture-collective/autovod/youtubeapi"
)

var day1 = time.Date(2026, 10, 17, 12, 30, 5, 0, time.UTC)

type fakeRunner struct {
	mu    sync.Mutex
	calls []pipeline.Pipeline
	fn    func(p pipeline.Pipeline) error
}

func (f *fakeRunner) Run(ctx context.Context, p pipeline.Pipeline) error {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(p)
}

func (f *fakeRunner) Calls() []pipeline.Pipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Pipeline(nil), f.calls...)
}

// writeOutput makes the fake capture produce a file like streamlink would.
func writeOutput(result error) func(p pipeline.Pipeline) error {
	return func(p pipeline.Pipeline) error {
		if p.Output != "" {
			if err := os.WriteFile(p.Output, []byte("media"), 0o600); err != nil {
				return err
			}
		}
		return result
	}
}

type fakeFetcher struct {
	info metadata.Info
	ok   bool
}

func (f *fakeFetcher) Fetch(context.Context, string) (metadata.Info, bool) { return f.info, f.ok }

func mustParse(t *testing.T, s string) *config.Config {
	t.Helper()
	c, err := config.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return c
}

func newTestOrchestrator(t *testing.T, cfg string, opts Options) (*Orchestrator, *fakeRunner, *clockwork.FakeClock) {
	t.Helper()
	r := &fakeRunner{}
	clock := clockwork.NewFakeClockAt(day1)
	if opts.Streamer == "" {
		opts.Streamer = "someone"
	}
	opts.Config = mustParse(t, cfg)
	opts.Runner = r
	opts.Clock = clock
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o, r, clock
}

func TestSourceURL(t *testing.T) {
	tests := []struct{ source, want string }{
		{"twitch", "twitch.tv/someone"},
		{"kick", "kick.com/someone"},
		{"youtube", "youtube.com/@someone/live"},
	}
	for _, tt := range tests {
		got, err := SourceURL(tt.source, "someone")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := SourceURL("vimeo", "someone")
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Equal(t, ClassFatal, Classify(err))
	assert.Equal(t, ClassRetryable, Classify(errors.New("exit status 1")))
}

func TestNewFatal(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		cfg     string
		wantErr error
	}{
		{"missing name", Options{}, "STREAM_SOURCE=twitch\nUPLOAD_SERVICE=local", ErrFatal},
		{"unknown source", Options{Streamer: "s"}, "STREAM_SOURCE=vimeo\nUPLOAD_SERVICE=local", ErrUnknownSource},
		{"unknown backend", Options{Streamer: "s"}, "STREAM_SOURCE=twitch\nUPLOAD_SERVICE=ftp", ErrUnknownBackend},
		{"missing youtube secrets", Options{Streamer: "s", SecretsDir: t.TempDir()}, "STREAM_SOURCE=twitch\nUPLOAD_SERVICE=youtube", ErrMissingFiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Config = mustParse(t, tt.cfg)
			_, err := New(tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsFatal(err))
		})
	}

	_, err := New(Options{Streamer: "s", ConfigPath: filepath.Join(t.TempDir(), "s.config")})
	assert.ErrorIs(t, err, ErrFatal)
}

func TestNextPart(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  int
	}{
		{"same day increments", State{LastSuccessDate: "17-10-26", CurrentPart: 3}, 4},
		{"other day resets", State{LastSuccessDate: "16-10-26", CurrentPart: 3}, 1},
		{"never succeeded", State{CurrentPart: 7}, 1},
		{"same day from zero", State{LastSuccessDate: "17-10-26"}, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.NextPart("17-10-26"), tt.name)
	}
}

func TestInitialStateFromConfig(t *testing.T) {
	st := InitialState(mustParse(t, "TIME_DATE_CHECK=17-10-26\nCURRENT_PART=4"))
	assert.Equal(t, State{LastSuccessDate: "17-10-26", CurrentPart: 4}, st)
	assert.Equal(t, State{CurrentPart: 1}, InitialState(config.New()))
}

func TestCaptureStages(t *testing.T) {
	c := mustParse(t, `STREAMLINK_QUALITY=720p
STREAMLINK_LOGS=warning
STREAMLINK_FLAGS=("--twitch-disable-ads" "--retry-streams 30")
RE_ENCODE=true
RE_ENCODE_CODEC=libx264
RE_ENCODE_CRF=23
RE_ECODE_PRESET=veryfast
RE_ENCODE_LOG=error`)

	stages := captureStages(c, "twitch.tv/someone", DefaultDuration, true)
	require.Len(t, stages, 2)
	assert.Equal(t, []string{"twitch.tv/someone", "720p", "--loglevel", "warning", "--twitch-disable-ads", "--retry-streams", "30", "--stdout"}, stages[0].Args)
	assert.Equal(t, "ffmpeg", stages[1].Program)
	assert.Equal(t, []string{"-i", "pipe:0", "-c:v", "libx264", "-crf", "23", "-preset", "veryfast", "-hide_banner", "-loglevel", "error", "-f", "matroska", "pipe:1"}, stages[1].Args)

	stages = captureStages(c, "twitch.tv/someone", "01:00:00", false)
	require.Len(t, stages, 1)
	assert.Equal(t, []string{"--hls-duration", "01:00:00"}, stages[0].Args[2:4])
}

const localConfig = `STREAM_SOURCE=twitch
UPLOAD_SERVICE=local
LOCAL_FILENAME="$STREAMER_NAME $TIME_DATE"
LOCAL_EXTENSION=mkv
SAVE_ON_FAIL=true
`

func TestLocalFailureKeepsFailedFile(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, localConfig, Options{})
	r.fn = writeOutput(errors.New("exit status 1"))

	err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	dir := o.opts.WorkDir
	_, statErr := os.Stat(filepath.Join(dir, "someone 17-10-26.mkv"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "someone 17-10-26_failed.mkv"))
	assert.NoError(t, statErr)

	assert.Equal(t, "", o.State().LastSuccessDate, "failure must not update the last success date")
	assert.Equal(t, "failure", o.Status().LastOutcome)
}

func TestLocalFailureWithoutSaveLeavesOutput(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, strings.Replace(localConfig, "SAVE_ON_FAIL=true", "", 1), Options{})
	r.fn = writeOutput(errors.New("exit status 1"))
	require.Error(t, o.RunOnce(context.Background()))
	_, err := os.Stat(filepath.Join(o.opts.WorkDir, "someone 17-10-26_failed.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalSuccessUpdatesDate(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, localConfig, Options{})
	r.fn = writeOutput(nil)
	require.NoError(t, o.RunOnce(context.Background()))
	assert.Equal(t, "17-10-26", o.State().LastSuccessDate)
	st := o.Status()
	assert.Equal(t, "success", st.LastOutcome)
	assert.Equal(t, 1, st.Iteration)
	assert.Equal(t, filepath.Join(o.opts.WorkDir, "someone 17-10-26.mkv"), r.Calls()[0].Output)
}

const splitConfig = localConfig + `SPLIT_VIDEO_DURATION=02:00:00
VIDEO_DURATION=12:00:00
`

func TestSplitSuffixDoesNotAccumulateAfterFailure(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, splitConfig, Options{})
	r.fn = writeOutput(errors.New("exit status 1"))

	require.Error(t, o.RunOnce(context.Background()))
	require.Error(t, o.RunOnce(context.Background()))

	calls := r.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, filepath.Join(o.opts.WorkDir, "someone 17-10-26 Part_1.mkv"), c.Output)
		assert.Contains(t, c.Stages[0].Args, "02:00:00")
	}
}

func TestIterationsNeverModifyBaseConfig(t *testing.T) {
	fetch := &fakeFetcher{info: metadata.Info{Title: "Speedruns", Game: "Celeste"}, ok: true}
	o, r, _ := newTestOrchestrator(t, splitConfig+"API_CALLS=true\n", Options{Fetcher: fetch})
	before := o.base.Clone()

	r.fn = writeOutput(errors.New("exit status 1"))
	require.Error(t, o.RunOnce(context.Background()))
	r.fn = writeOutput(nil)
	require.NoError(t, o.RunOnce(context.Background()))

	assert.True(t, before.Equal(o.base), "base config changed:\n%s", o.base)
	_, injected := o.base.Lookup(config.KeyCurrentPart)
	assert.False(t, injected)
}

func TestSplitPartCounter(t *testing.T) {
	o, r, clock := newTestOrchestrator(t, splitConfig, Options{})
	r.fn = writeOutput(nil)

	require.NoError(t, o.RunOnce(context.Background()))
	require.NoError(t, o.RunOnce(context.Background()))
	assert.Equal(t, 2, o.Status().CurrentPart)

	clock.Advance(24 * time.Hour)
	require.NoError(t, o.RunOnce(context.Background()))

	calls := r.Calls()
	require.Len(t, calls, 3)
	assert.True(t, strings.HasSuffix(calls[0].Output, "someone 17-10-26 Part_1.mkv"))
	assert.True(t, strings.HasSuffix(calls[1].Output, "someone 17-10-26 Part_2.mkv"))
	assert.True(t, strings.HasSuffix(calls[2].Output, "someone 18-10-26 Part_1.mkv"))
	assert.Equal(t, State{LastSuccessDate: "18-10-26", CurrentPart: 1}, o.State())
}

func youtubeFixture(t *testing.T) (secrets, meta string) {
	t.Helper()
	secrets, meta = t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secrets, YouTubeSecretsFile), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(secrets, YouTubeTokenFile), []byte("{}"), 0o600))
	return secrets, meta
}

const youtubeConfig = `STREAM_SOURCE=kick
UPLOAD_SERVICE=youtube
API_CALLS=true
API_URL=https://api.example.com/v1
VIDEO_TITLE="$STREAMER_TITLE - $STREAMER_NAME"
VIDEO_DESCRIPTION="Playing $STREAMER_GAME"
VIDEO_PLAYLIST="$STREAMER_NAME VODs"
VIDEO_VISIBILITY=unlisted
`

func TestYouTubeMetadataSubstitutionAndRestore(t *testing.T) {
	secrets, meta := youtubeFixture(t)
	fetch := &fakeFetcher{info: metadata.Info{Title: "Speedruns", Game: "Celeste"}, ok: true}
	o, r, _ := newTestOrchestrator(t, youtubeConfig, Options{SecretsDir: secrets, MetaDir: meta, Fetcher: fetch})

	var written []youtubeapi.Metadata
	r.fn = func(p pipeline.Pipeline) error {
		b, err := os.ReadFile(filepath.Join(meta, "input.someone"))
		require.NoError(t, err)
		written = append(written, decodeMeta(t, b))
		return nil
	}

	require.NoError(t, o.RunOnce(context.Background()))
	fetch.ok = false
	require.NoError(t, o.RunOnce(context.Background()))

	require.Len(t, written, 2)
	assert.Equal(t, youtubeapi.Metadata{
		Title: "Speedruns - someone", PrivacyStatus: "unlisted", Description: "Playing Celeste", PlaylistTitles: []string{"someone VODs"},
	}, written[0])
	assert.Equal(t, "$STREAMER_TITLE - someone", written[1].Title, "metadata must not leak into the next iteration")

	p := r.Calls()[0]
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "kick.com/someone", p.Stages[0].Args[0])
	assert.Equal(t, "youtubeuploader", p.Stages[1].Program)
	assert.Equal(t, []string{
		"-secrets", filepath.Join(secrets, YouTubeSecretsFile),
		"-cache", filepath.Join(secrets, YouTubeTokenFile),
		"-metaJSON", filepath.Join(meta, "input.someone"),
		"-filename", "-",
	}, p.Stages[1].Args)
}

func decodeMeta(t *testing.T, b []byte) youtubeapi.Metadata {
	t.Helper()
	var m youtubeapi.Metadata
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

type fakeUploader struct {
	got  string
	meta youtubeapi.Metadata
}

func (f *fakeUploader) Upload(_ context.Context, r io.Reader, m youtubeapi.Metadata) (string, error) {
	b, err := io.ReadAll(r)
	f.got, f.meta = string(b), m
	return "https://www.youtube.com/watch?v=x", err
}

func TestYouTubeAPISink(t *testing.T) {
	secrets, meta := youtubeFixture(t)
	up := &fakeUploader{}
	o, r, _ := newTestOrchestrator(t, youtubeConfig+"YOUTUBE_UPLOAD_METHOD=api\nAPI_CALLS=false\n",
		Options{SecretsDir: secrets, MetaDir: meta, Uploader: up})
	r.fn = func(p pipeline.Pipeline) error {
		require.NotNil(t, p.Sink)
		require.Len(t, p.Stages, 1)
		return p.Sink(context.Background(), strings.NewReader("stream-bytes"))
	}
	require.NoError(t, o.RunOnce(context.Background()))
	assert.Equal(t, "stream-bytes", up.got)
	assert.Equal(t, "$STREAMER_TITLE - someone", up.meta.Title)
}

func TestYouTubeMissingFilesAtDispatchIsFatal(t *testing.T) {
	secrets, meta := youtubeFixture(t)
	o, r, _ := newTestOrchestrator(t, youtubeConfig, Options{SecretsDir: secrets, MetaDir: meta, Fetcher: &fakeFetcher{}})
	require.NoError(t, os.Remove(filepath.Join(secrets, YouTubeTokenFile)))

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingFiles)
	assert.Empty(t, r.Calls())
}

const rcloneConfig = `STREAM_SOURCE=twitch
UPLOAD_SERVICE=rclone
RCLONE_REMOTE=gdrive
RCLONE_DIR="vods/$STREAMER_NAME"
RCLONE_FILENAME="$TIME_DATE"
RCLONE_FILEEXT=mp4
`

func rcloneRunner(captureErr, copyErr error) func(p pipeline.Pipeline) error {
	return func(p pipeline.Pipeline) error {
		if p.Stages[0].Program == "rclone" {
			return copyErr
		}
		_ = os.WriteFile(p.Output, []byte("media"), 0o600)
		return captureErr
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRcloneSuccess(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, rcloneConfig, Options{})
	r.fn = rcloneRunner(nil, nil)
	require.NoError(t, o.RunOnce(context.Background()))

	calls := r.Calls()
	require.Len(t, calls, 2)
	tmp := calls[0].Output
	assert.True(t, strings.HasPrefix(filepath.Base(tmp), "stream."))
	assert.Equal(t, []string{"copyto", tmp, "gdrive:vods/someone/17-10-26.mp4"}, calls[1].Stages[0].Args)
	assert.Empty(t, listDir(t, o.opts.WorkDir), "temp file is removed after upload")
	assert.Equal(t, "17-10-26", o.State().LastSuccessDate)
}

func TestRcloneCaptureFailureStillCopies(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, rcloneConfig, Options{})
	r.fn = rcloneRunner(errors.New("exit status 1"), nil)
	require.NoError(t, o.RunOnce(context.Background()))
	assert.Len(t, r.Calls(), 2)
}

func TestRcloneCopyFailure(t *testing.T) {
	t.Run("save on fail keeps a streamer qualified file", func(t *testing.T) {
		o, r, _ := newTestOrchestrator(t, rcloneConfig+"SAVE_ON_FAIL=true\n", Options{})
		r.fn = rcloneRunner(nil, errors.New("exit status 5"))
		require.Error(t, o.RunOnce(context.Background()))
		names := listDir(t, o.opts.WorkDir)
		require.Len(t, names, 1)
		assert.True(t, strings.HasPrefix(names[0], "stream_failed_someone."), names[0])
		assert.Equal(t, "", o.State().LastSuccessDate)
	})
	t.Run("without save the temp file is deleted", func(t *testing.T) {
		o, r, _ := newTestOrchestrator(t, rcloneConfig, Options{})
		r.fn = rcloneRunner(nil, errors.New("exit status 5"))
		require.Error(t, o.RunOnce(context.Background()))
		assert.Empty(t, listDir(t, o.opts.WorkDir))
	})
}

func TestRestreamPipeline(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, `STREAM_SOURCE=youtube
UPLOAD_SERVICE=restream
RTMPS_URL=rtmps://live.example.com/app/
RTMPS_STREAM_KEY=secret
RTMPS_CHANNEL=mirror
AUDIO_BITRATE=44100
AUDIO_CODEC=aac
FILE_FORMAT=flv
RE_ENCODE=true
`, Options{})
	require.NoError(t, o.RunOnce(context.Background()))
	p := r.Calls()[0]
	require.Len(t, p.Stages, 2, "restream never re-encodes")
	assert.Equal(t, "youtube.com/@someone/live", p.Stages[0].Args[0])
	assert.Equal(t, []string{"-re", "-i", "-", "-ar", "44100", "-acodec", "aac", "-vcodec", "copy", "-f", "flv", "rtmps://live.example.com/app/secret"}, p.Stages[1].Args)
	assert.Empty(t, p.Output)
}

func TestRunWaitsBetweenIterationsAndStops(t *testing.T) {
	o, r, clock := newTestOrchestrator(t, localConfig, Options{})
	r.fn = writeOutput(errors.New("exit status 1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.Len(t, r.Calls(), 1)
	assert.True(t, o.Status().Running)
	assert.Equal(t, day1.Add(DefaultInterval), o.Status().NextAttempt)

	clock.Advance(DefaultInterval)
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.Len(t, r.Calls(), 2)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
	assert.False(t, o.Status().Running)
}

func TestCustomPolicy(t *testing.T) {
	p := schedule.Immediate
	o, r, _ := newTestOrchestrator(t, localConfig, Options{Policy: &p})
	ctx, cancel := context.WithCancel(context.Background())
	r.fn = func(pipeline.Pipeline) error {
		if len(r.calls) == 3 {
			cancel()
		}
		return errors.New("exit status 1")
	}
	assert.NoError(t, o.Run(ctx))
	assert.Len(t, r.Calls(), 3)
}
