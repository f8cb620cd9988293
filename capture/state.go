package capture

import (
	"strconv"

	"github.com/subculture-collective/autovod/config"
)

// Date and clock stamps injected as TIME_DATE and TIME_CLOCK.
const (
	DateLayout  = "02-01-06"
	ClockLayout = "15-04-05"
)

// State is what one iteration hands to the next. It is the only data that
// survives an iteration; everything else is rebuilt from the parsed config.
type State struct {
	// LastSuccessDate is the TIME_DATE of the last successful delivery.
	LastSuccessDate string
	// CurrentPart is the part number of the last split capture.
	CurrentPart int
}

// InitialState seeds State from TIME_DATE_CHECK and CURRENT_PART when the
// config file sets them.
func InitialState(c *config.Config) State {
	s := State{LastSuccessDate: c.Get(config.KeyTimeDateCheck), CurrentPart: 1}
	if n, err := strconv.Atoi(c.Get(config.KeyCurrentPart)); err == nil && n >= 1 {
		s.CurrentPart = n
	}
	return s
}

// NextPart returns the part number for a capture started on today.
// Parts continue while the last success happened the same day and restart at 1 otherwise.
func (s State) NextPart(today string) int {
	if s.LastSuccessDate == "" || s.LastSuccessDate != today {
		return 1
	}
	if s.CurrentPart < 1 {
		return 2
	}
	return s.CurrentPart + 1
}

func (s State) inject(c *config.Config) {
	c.Set(config.KeyTimeDateCheck, s.LastSuccessDate)
	c.Set(config.KeyCurrentPart, strconv.Itoa(max(s.CurrentPart, 1)))
}
