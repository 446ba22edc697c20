package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChoice(t *testing.T) {
	tests := map[string]Choice{
		"1":           ChoiceNewReport,
		" new\n":      ChoiceNewReport,
		"A":           ChoiceInvalid,
		"2":           ChoiceOverwrite,
		"Overwrite":   ChoiceOverwrite,
		"r\r\n":       ChoiceInvalid,
		"replace\r\n": ChoiceOverwrite,
		"3":           ChoiceCancel,
		"":            ChoiceCancel,
		"   ":         ChoiceCancel,
		"q":           ChoiceCancel,
		"n":           ChoiceCancel,
		"No":          ChoiceCancel,
		"y":           ChoiceInvalid,
		"4":           ChoiceInvalid,
		"yes":         ChoiceInvalid,
		"overwrite!":  ChoiceInvalid,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseChoice(input), "input %q", input)
	}
}

func TestChoice_Resolution(t *testing.T) {
	assert.Equal(t, ResolutionNewReport, ChoiceNewReport.Resolution())
	assert.Equal(t, ResolutionOverwrite, ChoiceOverwrite.Resolution())
	assert.Equal(t, ResolutionCancel, ChoiceCancel.Resolution())
	assert.Equal(t, ResolutionNone, ChoiceInvalid.Resolution())
	assert.Equal(t, "invalid", ChoiceInvalid.String())
}

func TestResolution_AdapterFlag(t *testing.T) {
	assert.Equal(t, "--allow-same-day", ResolutionNewReport.AdapterFlag())
	assert.Equal(t, "--overwrite-today", ResolutionOverwrite.AdapterFlag())
	assert.Empty(t, ResolutionCancel.AdapterFlag())
	assert.Empty(t, ResolutionNone.AdapterFlag())
	assert.Error(t, Resolution("maybe").Validate())
}

func TestMode(t *testing.T) {
	assert.NoError(t, ModeFull.Validate())
	assert.Error(t, Mode("fast").Validate())
	assert.Empty(t, ModeFull.AdapterFlag())
	assert.Equal(t, "--sync-only", ModeSyncOnly.AdapterFlag())
	assert.Equal(t, "--no-sync", ModeNoSync.AdapterFlag())
}

func TestState(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed, StateCancelled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []State{StateConfigReady, StateProducersRefreshed, StateSyncing, StateReportFresh, StateDuplicateDetected, StateRendering} {
		assert.False(t, s.IsTerminal(), s)
		assert.NoError(t, s.Validate())
	}
	assert.Error(t, State("limbo").Validate())

	assert.Equal(t, RunStatusSucceeded, StatusForState(StateDone))
	assert.Equal(t, RunStatusFailed, StatusForState(StateFailed))
	assert.Equal(t, RunStatusCancelled, StatusForState(StateCancelled))
	assert.Equal(t, RunStatusRunning, StatusForState(StateSyncing))
}
