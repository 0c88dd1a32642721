package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":   30 * time.Second,
		"30m":   30 * time.Minute,
		"12h":   12 * time.Hour,
		"7d":    7 * 24 * time.Hour,
		"2w":    14 * 24 * time.Hour,
		"1d12h": 36 * time.Hour,
		" 1H ":  time.Hour,
		"1.5h":  90 * time.Minute,
	}
	for input, want := range cases {
		got, err := ParseDuration(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestParseDurationRejects(t *testing.T) {
	for _, input := range []string{"", "10", "h", "5y", "0m", "-5m", "99999999999999999w"} {
		_, err := ParseDuration(input)
		assert.Error(t, err, input)
	}
}
