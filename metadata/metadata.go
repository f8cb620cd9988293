// Package metadata looks up the title and game of a live stream from the
// "currently live" info endpoint (GET {host}/info/{streamer}).
//
// Every failure mode degrades to "no metadata": the capture loop keeps its
// templated title when the endpoint is down, rate limited, or reports that the
// stream has not started yet.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/subculture-collective/autovod/telemetry"
)

// RateLimitMessage is the body the endpoint returns when throttling callers.
const RateLimitMessage = "Too many requests, please try again later."

// Titles reported before a stream is really live.
var notLiveTitles = map[string]bool{"null": true, "initial_title": true}

// Result classifies one lookup.
type Result string

const (
	ResultOK           Result = "ok"
	ResultNetworkError Result = "network_error"
	ResultHTTPError    Result = "http_error"
	ResultRateLimited  Result = "rate_limited"
	ResultDecodeError  Result = "decode_error"
	ResultNotLive      Result = "not_live"
)

// Info is the live title and game of a stream.
type Info struct {
	Title string
	Game  string
}

// Fetcher is implemented by Client; the capture loop depends on this.
type Fetcher interface {
	Fetch(ctx context.Context, streamer string) (Info, bool)
}

// Client queries the info endpoint. Only the scheme and host of BaseURL are
// used, so API_URL may point at any path on the metadata host.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// InfoURL returns the lookup URL for streamer.
func (c *Client) InfoURL(streamer string) (string, error) {
	base := c.BaseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api url %q has no host", c.BaseURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/info/" + streamer}).String(), nil
}

// Fetch returns the live title and game. The boolean is false whenever no
// usable metadata is available; the reason is logged and counted.
func (c *Client) Fetch(ctx context.Context, streamer string) (Info, bool) {
	ctx, span := telemetry.StartSpan(ctx, "metadata", "metadata.fetch", attribute.String("streamer", streamer))
	defer span.End()

	info, res, err := c.Lookup(ctx, streamer)
	telemetry.IncMetadata(string(res))
	span.SetAttributes(attribute.String("result", string(res)))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "metadata"), slog.String("streamer", streamer))
	switch res {
	case ResultOK:
		logger.Info("stream metadata fetched", slog.String("title", info.Title), slog.String("game", info.Game))
		telemetry.SetSpanSuccess(span)
		return info, true
	case ResultRateLimited:
		logger.Warn(RateLimitMessage)
	case ResultNotLive:
		logger.Info("stream not live yet; keeping template title")
	default:
		telemetry.RecordError(span, err)
		logger.Warn("metadata fetch failed", slog.String("result", string(res)), slog.Any("err", err))
	}
	return Info{}, false
}

// Lookup performs the request and classifies the response.
func (c *Client) Lookup(ctx context.Context, streamer string) (Info, Result, error) {
	target, err := c.InfoURL(streamer)
	if err != nil {
		return Info{}, ResultNetworkError, err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Info{}, ResultNetworkError, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return Info{}, ResultNetworkError, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Info{}, ResultNetworkError, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Info{}, ResultHTTPError, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	return classify(body)
}

func classify(body []byte) (Info, Result, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == RateLimitMessage {
		return Info{}, ResultRateLimited, nil
	}
	var payload struct {
		Title *string `json:"stream_title"`
		Game  *string `json:"stream_game"`
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil && s == RateLimitMessage {
			return Info{}, ResultRateLimited, nil
		}
		return Info{}, ResultDecodeError, fmt.Errorf("unexpected string body %q", trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return Info{}, ResultDecodeError, fmt.Errorf("decode info: %w", err)
	}
	if payload.Title == nil || notLiveTitles[*payload.Title] {
		return Info{}, ResultNotLive, nil
	}
	info := Info{Title: *payload.Title}
	if payload.Game != nil {
		info.Game = *payload.Game
	}
	return info, ResultOK, nil
}
