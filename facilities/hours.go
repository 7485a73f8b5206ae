package facilities

import (
	"fmt"
	"strings"
	"time"
)

// Hours is a parsed daily opening-hours descriptor.
type Hours struct {
	AllDay bool
	Open   time.Duration // offset from midnight
	Close  time.Duration
}

// ParseHours parses "24/7" or "HH:MM-HH:MM". A close time earlier than the
// open time wraps past midnight.
func ParseHours(s string) (Hours, error) {
	s = strings.TrimSpace(s)
	if s == "24/7" {
		return Hours{AllDay: true}, nil
	}

	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Hours{}, fmt.Errorf("invalid opening hours %q", s)
	}
	open, err := clockOffset(from)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid opening hours %q: %w", s, err)
	}
	closeAt, err := clockOffset(to)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid opening hours %q: %w", s, err)
	}
	return Hours{Open: open, Close: closeAt}, nil
}

// OpenAt reports whether the facility is open at the wall-clock time of t.
func (h Hours) OpenAt(t time.Time) bool {
	if h.AllDay {
		return true
	}
	now := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if h.Open <= h.Close {
		return now >= h.Open && now < h.Close
	}
	return now >= h.Open || now < h.Close
}

func clockOffset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
