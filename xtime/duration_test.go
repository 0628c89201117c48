package xtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		exp    time.Duration
		expErr string
	}{
		{in: "15m", exp: 15 * time.Minute},
		{in: "1w2d", exp: Week + 2*Day},
		{in: "1.5d", exp: 36 * time.Hour},
		{in: "-3h30m", exp: -(3*time.Hour + 30*time.Minute)},
		{in: "250ms", exp: 250 * time.Millisecond},
		{in: "0", exp: 0},
		{in: "", expErr: "invalid duration ''"},
		{in: "10", expErr: "unknown unit ''"},
		{in: "5y", expErr: "unknown unit 'y'"},
		{in: "h", expErr: "expected number"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			t.Parallel()

			got, err := ParseDuration(tt.in)
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    time.Duration
		round time.Duration
		exp   string
	}{
		{in: 15 * time.Minute, round: time.Second, exp: "15m"},
		{in: Week + 2*Day + 3*time.Hour, round: time.Hour, exp: "1w2d3h"},
		{in: 90*time.Minute + 10*time.Second, round: time.Minute, exp: "1h30m"},
		{in: -2 * Day, round: time.Second, exp: "-2d"},
		{in: 0, round: time.Second, exp: "0s"},
		{in: 400 * time.Millisecond, round: time.Second, exp: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.exp, func(t *testing.T) {
			t.Parallel()

			got := FormatDuration(tt.in, tt.round)
			assert.Equal(t, tt.exp, got)

			if tt.in.Round(tt.round) != 0 {
				back, err := ParseDuration(got)
				require.NoError(t, err)
				assert.Equal(t, tt.in.Round(tt.round), back)
			}
		})
	}
}
