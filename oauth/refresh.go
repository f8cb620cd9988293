// Package oauth keeps cached OAuth tokens fresh in the background. It performs
// jittered checks and refreshes when expiry falls within a configured window,
// so tools that read the same token cache (youtubeuploader) never start a long
// upload with a token about to expire.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/subculture-collective/autovod/schedule"
)

// Store loads and persists one token.
type Store interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
}

// RefreshFunc performs the provider specific refresh.
type RefreshFunc func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)

// Refresher periodically checks a stored token and refreshes it.
type Refresher struct {
	Provider string
	Store    Store
	Refresh  RefreshFunc
	// Interval is how often to wake up and check.
	Interval time.Duration
	// Window triggers a refresh when the remaining lifetime is at most Window.
	Window time.Duration
	Clock  clockwork.Clock
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
}

// Run checks the token every Interval (±20%) until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	r.defaults()
	// Spread checks of processes started together.
	wait := schedule.Policy{Interval: r.Interval - r.Interval/5, Jitter: 2 * r.Interval / 5}
	for {
		if err := wait.Wait(ctx, r.Clock); err != nil {
			return
		}
		if _, err := r.Check(ctx); err != nil {
			slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
	}
}

// Check refreshes the token when it expires within Window. It reports whether a
// new token was saved.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	tok, err := r.Store.Load(ctx)
	if err != nil {
		return false, err
	}
	if tok.RefreshToken == "" {
		return false, nil
	}
	// If still outside window skip quickly
	if !tok.Expiry.IsZero() && tok.Expiry.Sub(r.Clock.Now()) > r.Window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newTok, err := r.Refresh(ctx2, tok)
	cancel()
	if err != nil {
		return false, err
	}
	if newTok == nil {
		return false, errors.New("refresh returned no token")
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}
	if err := r.Store.Save(ctx, newTok); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expiry", newTok.Expiry))
	return true, nil
}
