package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"

	"github.com/subculture-collective/autovod/schedule"
	"github.com/subculture-collective/autovod/telemetry"
)

// ErrLocked is returned by Run when another writer holds the log.
var ErrLocked = errors.New("chat log is locked by another process")

// Conn is one established chat connection.
type Conn interface {
	// Next blocks until the next frame arrives.
	Next(ctx context.Context) (string, error)
	Close() error
}

// Dialer establishes connections to one chat source. Dial covers everything
// needed before frames flow, such as id lookups and subscribe frames.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	// Source labels metrics and log lines ("ws", "kick", "twitch").
	Source() string
}

// Reader appends the frames of one chat feed to Path, reconnecting forever.
type Reader struct {
	Name   string
	Path   string
	Dialer Dialer
	// Policy is the wait before reconnecting. The zero value reconnects immediately.
	Policy schedule.Policy
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func (r *Reader) logger() *slog.Logger {
	l := r.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", "chat"), slog.String("source", r.Dialer.Source()), slog.String("name", r.Name))
}

// Run records until ctx is cancelled, then returns nil. It only returns an
// error when the log cannot be set up or is locked by another writer.
func (r *Reader) Run(ctx context.Context) error {
	if r.Dialer == nil {
		return errors.New("chat reader without dialer")
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o750); err != nil {
		return fmt.Errorf("create chat dir: %w", err)
	}
	lock := flock.New(r.Path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock chat log: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, r.Path)
	}
	defer func() { _ = lock.Unlock() }()

	log := r.logger()
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log.Info("chat reader started", slog.String("path", r.Path))
	for {
		n, err := r.attempt(ctx)
		if ctx.Err() != nil {
			log.Info("chat reader stopped")
			return nil
		}
		telemetry.IncChatReconnect(r.Dialer.Source())
		log.Warn("chat connection ended, reconnecting", slog.Int("frames", n), slog.Any("err", err))
		if err := r.Policy.Wait(ctx, clock); err != nil {
			log.Info("chat reader stopped")
			return nil
		}
	}
}

// attempt runs one open-dial-receive sequence and returns the frames written.
// It always ends with an error.
func (r *Reader) attempt(ctx context.Context) (int, error) {
	f, err := os.OpenFile(r.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	conn, err := r.Dialer.Dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	// Unblock Next when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	source := r.Dialer.Source()
	n := 0
	for {
		frame, err := conn.Next(ctx)
		if err != nil {
			return n, fmt.Errorf("receive: %w", err)
		}
		if _, err := f.Write(append([]byte(frame), '\n')); err != nil {
			return n, fmt.Errorf("append chat log: %w", err)
		}
		n++
		telemetry.IncChatFrame(source)
	}
}
