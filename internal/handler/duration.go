package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

var errEmptyDuration = errors.New("empty duration")

// ParseDuration reads moderator input such as "30m", "12h", "7d", "2w" or
// "1d12h". Units are required and the result must be positive.
func ParseDuration(input string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return 0, errEmptyDuration
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", input, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", input)
	}
	return d, nil
}
