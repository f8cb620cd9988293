package capture

import (
	"strconv"
	"strings"
	"time"

	"github.com/subculture-collective/autovod/config"
	"github.com/subculture-collective/autovod/metadata"
)

// Placeholders replaced with live metadata after resolution.
const (
	PlaceholderTitle = "$STREAMER_TITLE"
	PlaceholderGame  = "$STREAMER_GAME"
)

// DefaultDuration means no capture cap.
const DefaultDuration = "00:00:00"

// partKeys receive the " Part_<n>" suffix in split mode.
var partKeys = []string{config.KeyVideoTitle, config.KeyRcloneFilename, config.KeyLocalFilename}

// iteration is the working config of one loop pass.
type iteration struct {
	cfg      *config.Config
	today    string
	duration string
	part     int

}

// newIteration clones base, injects runtime fields and State, and resolves
// templates. base itself is never modified.
func newIteration(base *config.Config, streamer string, st State, now time.Time) *iteration {
	c := base.Clone()
	c.Set(config.KeyStreamerName, streamer)
	c.Set(config.KeyTimeDate, now.Format(DateLayout))
	c.Set(config.KeyTimeClock, now.Format(ClockLayout))
	st.inject(c)

	it := &iteration{
		cfg:   config.Resolve(c),
		today: now.Format(DateLayout),
	}
	it.duration = it.cfg.GetOr(config.KeyVideoDuration, DefaultDuration)
	return it
}

// applyMetadata substitutes the live title and game into the ephemeral fields.
func (it *iteration) applyMetadata(info metadata.Info) {
	r := strings.NewReplacer(PlaceholderTitle, info.Title, PlaceholderGame, info.Game)
	for _, k := range config.EphemeralKeys {
		if v := it.cfg.Get(k); v != "" {
			it.cfg.Set(k, r.Replace(v))
		}
	}
}

// splitPart switches to the split duration, advances the part counter and
// suffixes title and filenames. It returns the part number in use.
func (it *iteration) splitPart(split string, st State) int {
	it.duration = split
	it.part = st.NextPart(it.today)
	it.cfg.Set(config.KeyCurrentPart, strconv.Itoa(it.part))
	for _, k := range partKeys {
		if v := it.cfg.Get(k); v != "" {
			it.cfg.Set(k, v+" Part_"+strconv.Itoa(it.part))
		}
	}
	return it.part
}

// ephemeral returns the current values of the ephemeral fields.
func (it *iteration) ephemeral() map[string]string {
	out := make(map[string]string, len(config.EphemeralKeys))
	for _, k := range config.EphemeralKeys {
		out[k] = it.cfg.Get(k)
	}
	return out
}
