package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/metadata"
	"github.com/subculture-collective/autovod/pipeline"
	"github.com/subculture-collective/autovod/schedule"
	"github.com/subculture-collective/autovod/telemetry"
)

const tracerName = "autovod/capture"

// DefaultInterval is the wait between iterations.
const DefaultInterval = 60 * time.Second

// Options configure an Orchestrator. Streamer and one of Config or ConfigPath
// are required; everything else has a working default.
type Options struct {
	Streamer   string
	ConfigPath string
	// Config overrides reading ConfigPath. ConfigPath is still checked as a
	// required file of the youtube backend when set.
	Config *config.Config

	Runner   pipeline.Runner
	Fetcher  metadata.Fetcher
	Uploader Uploader
	Clock    clockwork.Clock
	Policy   *schedule.Policy

	SecretsDir string
	WorkDir    string
	MetaDir    string
	Logger     *slog.Logger
}

// Status is a point in time view of the loop.
type Status struct {
	Streamer        string    `json:"streamer"`
	Source          string    `json:"source"`
	Backend         string    `json:"backend"`
	Iteration       int       `json:"iteration"`
	Running         bool      `json:"running"`
	LastOutcome     string    `json:"last_outcome,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	LastRun         time.Time `json:"last_run"`
	NextAttempt     time.Time `json:"next_attempt"`
	LastSuccessDate string    `json:"last_success_date,omitempty"`
	CurrentPart     int       `json:"current_part"`
}

// Orchestrator runs the capture loop for one streamer.
type Orchestrator struct {
	opts    Options
	base    *config.Config
	url     string
	backend backend
	runner  pipeline.Runner
	fetcher metadata.Fetcher
	clock   clockwork.Clock
	policy  schedule.Policy
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	status Status
}

// New validates the config and returns a ready Orchestrator. All returned
// errors are fatal.
func New(opts Options) (*Orchestrator, error) {
	if opts.Streamer == "" {
		return nil, fmt.Errorf("%w: missing streamer name", ErrFatal)
	}
	base := opts.Config
	if base == nil {
		if opts.ConfigPath == "" {
			return nil, fmt.Errorf("%w: no config for %s", ErrFatal, opts.Streamer)
		}
		c, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		base = c
	}
	if opts.SecretsDir == "" {
		opts.SecretsDir = "secrets"
	}
	if opts.MetaDir == "" {
		opts.MetaDir = os.TempDir()
	}

	o := &Orchestrator{opts: opts, base: base, runner: opts.Runner, fetcher: opts.Fetcher, clock: opts.Clock}
	o.log = opts.Logger
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With(slog.String("component", "capture"), slog.String("streamer", opts.Streamer))

	source := base.Get(config.KeyStreamSource)
	url, err := SourceURL(source, opts.Streamer)
	if err != nil {
		return nil, err
	}
	o.url = url

	svc := base.Get(config.KeyUploadService)
	if o.backend, err = newBackend(svc, o); err != nil {
		return nil, err
	}
	if err := checkFiles(o.backend.requiredFiles()); err != nil {
		return nil, err
	}

	if o.runner == nil {
		o.runner = &pipeline.ExecRunner{Logger: o.log}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.fetcher == nil && base.IsTrue(config.KeyAPICalls) {
		o.fetcher = &metadata.Client{BaseURL: base.Get(config.KeyAPIURL)}
	}
	o.policy = schedule.Fixed(DefaultInterval)
	if opts.Policy != nil {
		o.policy = *opts.Policy
	}

	o.state = InitialState(base)
	o.status = Status{
		Streamer:        opts.Streamer,
		Source:          source,
		Backend:         svc,
		LastSuccessDate: o.state.LastSuccessDate,
		CurrentPart:     o.state.CurrentPart,
	}
	o.log.Info("stream source", slog.String("url", url), slog.String("backend", svc))
	return o, nil
}

func checkFiles(files []string) error {
	var missing []string
	for _, f := range files {
		if fi, err := os.Stat(f); err != nil || fi.IsDir() {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFiles, strings.Join(missing, ", "))
	}
	return nil
}

// Run iterates until ctx is done (returning nil) or an iteration fails fatally.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setRunning(true)
	defer o.setRunning(false)
	for {
		if err := o.RunOnce(ctx); err != nil && IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		o.mu.Lock()
		o.status.NextAttempt = o.clock.Now().Add(o.policy.Interval)
		o.mu.Unlock()
		o.log.Info("trying again", slog.Duration("in", o.policy.Interval))
		if err := o.policy.Wait(ctx, o.clock); err != nil {
			o.log.Info("capture loop stopped")
			return nil
		}
	}
}

// RunOnce performs one iteration: build config, refresh metadata, split parts,
// dispatch, record the outcome. Delivery failures are logged and returned;
// only errors wrapping ErrFatal should stop the caller.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	now := o.clock.Now()
	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "capture.iteration",
		attribute.String("streamer", o.opts.Streamer),
		attribute.String("backend", o.backend.name()),
	)
	defer span.End()
	log := o.log.With(slog.String("corr", corr))

	telemetry.IncIterations()
	st := o.State()
	o.mu.Lock()
	o.status.Iteration++
	o.status.LastRun = now
	o.mu.Unlock()

	it := newIteration(o.base, o.opts.Streamer, st, now)

	if it.cfg.IsTrue(config.KeyAPICalls) && o.fetcher != nil {
		if info, ok := o.fetcher.Fetch(ctx, o.opts.Streamer); ok {
			it.applyMetadata(info)
		}
	}
	if split := it.cfg.Get(config.KeySplitVideoDuration); split != "" {
		st.CurrentPart = it.splitPart(split, st)
		telemetry.SetCurrentPart(st.CurrentPart)
	}
	log.Debug("iteration config", slog.Any("fields", it.ephemeral()), slog.String("duration", it.duration))

	if err := checkFiles(o.backend.requiredFiles()); err != nil {
		log.Error("one or more required files are missing", slog.Any("err", err))
		telemetry.RecordError(span, err)
		return err
	}

	start := o.clock.Now()
	derr := o.backend.deliver(ctx, job{
		cfg:      it.cfg,
		streamer: o.opts.Streamer,
		url:      o.url,
		duration: it.duration,
		runner:   o.runner,
		log:      log,
	})
	end := o.clock.Now()
	telemetry.RecordDispatch(o.backend.name(), derr == nil, end.Sub(start))

	if derr == nil {
		st.LastSuccessDate = end.Format(DateLayout)
		telemetry.MarkSuccess(end)
		telemetry.SetSpanSuccess(span)
	} else {
		telemetry.RecordError(span, derr)
	}
	o.finish(st, derr)
	return derr
}

func (o *Orchestrator) finish(st State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = st
	o.status.LastSuccessDate = st.LastSuccessDate
	o.status.CurrentPart = st.CurrentPart
	if err != nil {
		o.status.LastOutcome = "failure"
		o.status.LastError = err.Error()
		return
	}
	o.status.LastOutcome = "success"
	o.status.LastError = ""
}

func (o *Orchestrator) setRunning(v bool) {
	o.mu.Lock()
	o.status.Running = v
	o.mu.Unlock()
}

// State returns the state the next iteration will start from.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot safe to serialize from another goroutine.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}
