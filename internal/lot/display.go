package lot

import (
	"fmt"
	"time"
)

// EndedText is the countdown shown for a closed lot.
const EndedText = "Auction ended"

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// TimeStatusText says when the auction runs or ran.
func (l *Lot) TimeStatusText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return timeStatusText(l.status, l.datetime)
}

// AuctionStatusText is the label shown next to the countdown.
func (l *Lot) AuctionStatusText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return auctionStatusText(l.status, l.price)
}

// TimeLeft formats the time between now and the lot's datetime as
// "D days H hours M minutes S seconds". A closed lot always reports EndedText.
func (l *Lot) TimeLeft(now time.Time) string {
	l.mu.RLock()
	status, datetime := l.status, l.datetime
	l.mu.RUnlock()

	if status == StatusClosed {
		return EndedText
	}
	var left time.Duration
	if at, err := parseDatetime(datetime, now.Location()); err == nil {
		left = at.Sub(now)
	}
	return formatCountdown(left)
}

func timeStatusText(s Status, datetime string) string {
	switch s {
	case StatusActive:
		return "Open until " + datetime
	case StatusClosed:
		return "Closed " + datetime
	case StatusWait:
		return "Opens " + datetime
	}
	return ""
}

func auctionStatusText(s Status, price int) string {
	switch s {
	case StatusActive:
		return "Until the lot closes"
	case StatusClosed:
		return fmt.Sprintf("Sold for %d", price)
	case StatusWait:
		return "Until the auction starts"
	}
	return ""
}

// parseDatetime accepts RFC 3339 and zone-less ISO forms; zone-less values are
// read in loc.
func parseDatetime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60
	return fmt.Sprintf("%d days %d hours %d minutes %d seconds", days, hours, minutes, seconds)
}
