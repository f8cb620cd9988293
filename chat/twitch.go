package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchDialer joins a Twitch channel anonymously. Frames are the raw IRC
// lines of chat messages and user notices.
type TwitchDialer struct {
	Channel string
	// Address overrides the IRC server, mainly for tests. Plain TCP is used
	// when Insecure is set.
	Address  string
	Insecure bool
}

func (d *TwitchDialer) Source() string { return "twitch" }

// Dial starts the IRC client. Connection errors surface from Next.
func (d *TwitchDialer) Dial(_ context.Context) (Conn, error) {
	if d.Channel == "" {
		return nil, errors.New("twitch channel is empty")
	}
	client := twitch.NewAnonymousClient()
	if d.Address != "" {
		client.IrcAddress = d.Address
	}
	if d.Insecure {
		client.TLS = false
	}
	c := &twitchConn{
		client: client,
		frames: make(chan string, 256),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	client.OnPrivateMessage(func(m twitch.PrivateMessage) { c.push(m.Raw) })
	client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) { c.push(m.Raw) })
	client.Join(strings.ToLower(d.Channel))
	go func() {
		err := client.Connect()
		if err == nil {
			err = errors.New("twitch connection closed")
		}
		c.errc <- err
	}()
	return c, nil
}

type twitchConn struct {
	client *twitch.Client
	frames chan string
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

// push blocks the IRC reader while the log writer catches up.
func (c *twitchConn) push(raw string) {
	select {
	case c.frames <- raw:
	case <-c.done:
	}
}

func (c *twitchConn) Next(ctx context.Context) (string, error) {
	// Frames already received win over a later disconnect.
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errc:
		return "", err
	case <-c.done:
		return "", errors.New("twitch connection closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *twitchConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.client.Disconnect()
	})
	return nil
}
