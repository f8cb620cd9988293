package capture

import "fmt"

// Stream sources understood by SourceURL.
const (
	SourceTwitch  = "twitch"
	SourceKick    = "kick"
	SourceYouTube = "youtube"
)

// SourceURL maps a STREAM_SOURCE value and streamer name to the URL handed to streamlink.
func SourceURL(source, name string) (string, error) {
	switch source {
	case SourceTwitch:
		return "twitch.tv/" + name, nil
	case SourceKick:
		return "kick.com/" + name, nil
	case SourceYouTube:
		return "youtube.com/@" + name + "/live", nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownSource, source)
	}
}
