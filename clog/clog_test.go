package clog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	messages []string
}

func (p *recordingProvider) Critical(format string, v ...interface{}) { p.messages = append(p.messages, "C:"+format) }
func (p *recordingProvider) Error(format string, v ...interface{})    { p.messages = append(p.messages, "E:"+format) }
func (p *recordingProvider) Warn(format string, v ...interface{})     { p.messages = append(p.messages, "W:"+format) }
func (p *recordingProvider) Debug(format string, v ...interface{})    { p.messages = append(p.messages, "D:"+format) }

func TestLogModeGatesOutput(t *testing.T) {
	p := &recordingProvider{}
	log := NewLogger("test")
	log.SetLogProvider(p)

	log.Warn("should not appear")
	require.Empty(t, p.messages)

	log.LogMode(true)
	log.Warn("should appear")
	require.Equal(t, []string{"W:should appear"}, p.messages)

	log.LogMode(false)
	log.Error("should not appear either")
	require.Equal(t, []string{"W:should appear"}, p.messages)
}

func TestSetLogProviderIgnoresNil(t *testing.T) {
	p := &recordingProvider{}
	log := NewLogger("test")
	log.SetLogProvider(p)
	log.SetLogProvider(nil)
	log.LogMode(true)

	log.Debug("via original provider")
	require.Equal(t, []string{"D:via original provider"}, p.messages)
}

func TestComponentReturnsConstructorName(t *testing.T) {
	log := NewLogger("session")
	require.Equal(t, "session", log.Component())
}
