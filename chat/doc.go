// Package chat records live chat feeds into flat, append-only text logs.
//
// A Reader owns one log file. It dials its source, appends every received
// frame verbatim followed by a newline, and on any failure (refused
// connection, dropped socket, failed channel lookup) starts the whole
// dial-subscribe-receive sequence over. It never gives up; only context
// cancellation stops it.
//
// Three sources are provided:
//   - WebsocketDialer: any websocket endpoint whose text frames are the chat.
//   - KickDialer: resolves a Kick channel name to its chatroom id, then
//     subscribes to the chatroom on Kick's pusher websocket.
//   - TwitchDialer: joins a Twitch channel anonymously over IRC and records the
//     raw PRIVMSG and USERNOTICE lines.
//
// Each log file has exactly one writer: Run holds an advisory lock on
// "<path>.lock" for its whole lifetime and fails fast when another process
// holds it.
package chat
