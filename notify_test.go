package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitChangeHandlers(t *testing.T) {
	hs := initChangeHandlers(nil)
	require.Len(t, hs, 1)
	assert.Equal(t, "log", hs[0].Name())

	hs = initChangeHandlers([]NotifyConfig{{Type: "carrier-pigeon"}})
	require.Len(t, hs, 1)
	assert.Equal(t, "log", hs[0].Name())

	hs = initChangeHandlers([]NotifyConfig{{Type: "log"}, {Type: "EMAIL", SMTPServer: "mail", SMTPPort: 25}})
	require.Len(t, hs, 2)
	email, ok := hs[1].(EmailHandler)
	require.True(t, ok)
	assert.Equal(t, "mail", email.SMTPServer)
}

func TestLogHandler_Notify(t *testing.T) {
	el := NewEventLogger(filepath.Join(t.TempDir(), "events.log"))
	err := LogHandler{}.Notify(ModeChange{
		Pin:  NewPinConfig(76),
		From: ModeOn,
		To:   ModeOff,
		By:   "admin",
		At:   time.Now(),
	}, el)
	require.NoError(t, err)

	lines, err := el.Tail(1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "mode gpio76: on -> off by admin")
}
