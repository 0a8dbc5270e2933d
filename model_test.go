package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"0", ModeOff, false},
		{"1", ModeOn, false},
		{"1\n", ModeOn, false},
		{"0 \r\n", ModeOff, false},
		{"  1", ModeOn, false},
		{"2", 0, true},
		{"-1", 0, true},
		{"on", 0, true},
		{"", 0, true},
		{"1x", 0, true},
		{"0x1", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidInput, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "off", ModeOff.String())
	assert.Equal(t, "on", ModeOn.String())
	assert.Equal(t, "invalid(7)", Mode(7).String())
	assert.False(t, Mode(7).Valid())
	assert.Equal(t, High, ModeOn.Level())
	assert.Equal(t, Low, ModeOff.Level())
}

func TestNewPinConfig(t *testing.T) {
	pc := NewPinConfig(DefaultPin)
	assert.Equal(t, 76, pc.Pin)
	assert.Equal(t, "gpio76", pc.Name)
	assert.Equal(t, "gpio115", NewPinConfig(115).Name)
}
