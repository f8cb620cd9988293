package metadata

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/autovod/telemetry"
	"github.com/subculture-collective/autovod/testutil"
)

func TestInfoURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.example.com/some/path", "https://api.example.com/info/someone"},
		{"api.example.com", "https://api.example.com/info/someone"},
		{"http://127.0.0.1:8080/", "http://127.0.0.1:8080/info/someone"},
	}
	for _, tt := range tests {
		c := &Client{BaseURL: tt.base}
		got, err := c.InfoURL("someone")
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
	_, err := (&Client{BaseURL: "https://"}).InfoURL("x")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	telemetry.Init()
	tests := []struct {
		name   string
		setup  func(m *testutil.MockAPIServer)
		want   Info
		ok     bool
		result Result
	}{
		{
			name:   "live stream",
			setup:  func(m *testutil.MockAPIServer) { m.MockInfoResponse("someone", "Late night speedruns", "Celeste") },
			want:   Info{Title: "Late night speedruns", Game: "Celeste"},
			ok:     true,
			result: ResultOK,
		},
		{
			name: "rate limited raw body",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusOK, "Too many requests, please try again later.")
			},
			result: ResultRateLimited,
		},
		{
			name: "rate limited json string",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusOK, `"Too many requests, please try again later."`)
			},
			result: ResultRateLimited,
		},
		{
			name:   "sentinel null title",
			setup:  func(m *testutil.MockAPIServer) { m.MockInfoResponse("someone", "null", "x") },
			result: ResultNotLive,
		},
		{
			name:   "initial title",
			setup:  func(m *testutil.MockAPIServer) { m.MockInfoResponse("someone", "initial_title", "x") },
			result: ResultNotLive,
		},
		{
			name: "json null title",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusOK, `{"stream_title":null,"stream_game":null}`)
			},
			result: ResultNotLive,
		},
		{
			name: "server error",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusBadGateway, "bad gateway")
			},
			result: ResultHTTPError,
		},
		{
			name:   "unknown streamer",
			setup:  func(m *testutil.MockAPIServer) {},
			result: ResultHTTPError,
		},
		{
			name: "garbage body",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusOK, "<html>")
			},
			result: ResultDecodeError,
		},
		{
			name: "game missing",
			setup: func(m *testutil.MockAPIServer) {
				m.MockRawResponse("/info/someone", http.StatusOK, `{"stream_title":"hi"}`)
			},
			want:   Info{Title: "hi"},
			ok:     true,
			result: ResultOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockAPIServer(t)
			tt.setup(m)
			c := &Client{BaseURL: m.URL + "/api"}

			info, res, _ := c.Lookup(context.Background(), "someone")
			assert.Equal(t, tt.result, res)
			assert.Equal(t, tt.want, info)

			info, ok := c.Fetch(context.Background(), "someone")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, info)
			assert.Equal(t, 2, m.Hits("/info/someone"))
		})
	}
}

func TestFetchNetworkError(t *testing.T) {
	m := testutil.NewMockAPIServer(t)
	c := &Client{BaseURL: m.URL}
	m.Close()
	_, res, err := c.Lookup(context.Background(), "someone")
	assert.Equal(t, ResultNetworkError, res)
	assert.Error(t, err)
	_, ok := c.Fetch(context.Background(), "someone")
	assert.False(t, ok)
}
