package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kick endpoints.
const (
	KickAPIBase      = "https://kick.com"
	KickWebsocketURL = "wss://ws-us2.pusher.com/app/eb1d5f283081a78b932c?protocol=7&client=js&version=7.6.0&flash=false"
)

// Kick's API rejects requests that do not look like they come from a browser.
const kickUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"

// KickDialer subscribes to a Kick channel's chatroom on the pusher websocket.
// The chatroom id is looked up once; until that succeeds every Dial retries it.
type KickDialer struct {
	Channel      string
	APIBase      string
	WebsocketURL string
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer

	mu         sync.Mutex
	chatroomID int64
}

func (k *KickDialer) Source() string { return "kick" }

func (k *KickDialer) Dial(ctx context.Context) (Conn, error) {
	id, err := k.ChatroomID(ctx)
	if err != nil {
		return nil, err
	}
	wsURL := k.WebsocketURL
	if wsURL == "" {
		wsURL = KickWebsocketURL
	}
	c, err := dialWebsocket(ctx, k.Dialer, wsURL, nil)
	if err != nil {
		return nil, err
	}
	if err := c.send(SubscribeFrame(id)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return c, nil
}

// SubscribeFrame is the pusher subscribe message for a chatroom.
func SubscribeFrame(chatroomID int64) []byte {
	return []byte(`{"event":"pusher:subscribe","data":{"auth":"","channel":"chatrooms.` + fmt.Sprint(chatroomID) + `.v2"}}`)
}

// ChatroomID returns the cached chatroom id, resolving it on first use.
func (k *KickDialer) ChatroomID(ctx context.Context) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.chatroomID != 0 {
		return k.chatroomID, nil
	}
	id, err := k.lookup(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("kick chatroom resolved", slog.String("channel", k.Channel), slog.Int64("chatroom_id", id))
	k.chatroomID = id
	return id, nil
}

type kickChannel struct {
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
}

func (k *KickDialer) lookup(ctx context.Context) (int64, error) {
	base := strings.TrimRight(k.APIBase, "/")
	if base == "" {
		base = KickAPIBase
	}
	endpoint := base + "/api/v1/channels/" + url.PathEscape(k.Channel)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", kickUserAgent)
	req.Header.Set("Accept", "application/json")

	client := k.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kick channel lookup: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("kick channel lookup: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var ch kickChannel
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return 0, fmt.Errorf("kick channel decode: %w", err)
	}
	if ch.Chatroom.ID == 0 {
		return 0, fmt.Errorf("kick channel %s has no chatroom", k.Channel)
	}
	return ch.Chatroom.ID, nil
}
