package engine

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		stderr string
		want   Kind
	}{
		{"zero exit", 0, "", KindSuccess},
		{"adapter configuration code", 10, "", KindConfiguration},
		{"adapter external api code", 11, "", KindExternalService},
		{"adapter filesystem code", 12, "", KindStorage},
		{"adapter database code", 13, "", KindStorage},
		{"code beats fingerprint", 11, "database is locked", KindExternalService},
		{"database locked", 1, "sqlite3.OperationalError: database is locked", KindStorage},
		{"malformed database", 1, "Error: database disk image is malformed", KindStorage},
		{"permission errno", 1, "PermissionError: [Errno 13] Permission denied: 'out.png'", KindStorage},
		{"windows access denied", 1, "Access is denied.", KindStorage},
		{"json decode", 1, "json.decoder.JSONDecodeError: Expecting value: line 1 column 1", KindConfiguration},
		{"config mention", 1, "could not read config.json", KindConfiguration},
		{"case insensitive", 1, "DATABASE IS LOCKED", KindStorage},
		{"unknown failure", 1, "Traceback: KeyError: 'foo'", KindUnclassified},
		{"empty stderr", 1, "", KindUnclassified},
		{"negative code", -1, "killed", KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.code, tt.stderr))
		})
	}
}

func TestClassify_StorageBeforeConfiguration(t *testing.T) {
	stderr := "config.json: Permission denied"
	assert.Equal(t, KindStorage, Classify(1, stderr))
}

func TestClassify_Total(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vocabulary := []string{
		"database", "is", "locked", "errno", "13", "permission", "denied",
		"config.json", "expecting", "value", "timeout", "error", "\n", " ", "日本語",
	}
	valid := map[int]bool{ExitSuccess: true, ExitConfiguration: true, ExitExternalService: true, ExitStorage: true, ExitUnclassified: true}

	for i := 0; i < 2000; i++ {
		code := rng.Intn(300) - 20
		var b strings.Builder
		for j := rng.Intn(12); j > 0; j-- {
			b.WriteString(vocabulary[rng.Intn(len(vocabulary))])
			b.WriteByte(' ')
		}
		kind := Classify(code, b.String())
		require.NoError(t, kind.Validate(), "code=%d stderr=%q", code, b.String())
		require.True(t, valid[kind.ExitCode()], "kind %s has exit code %d", kind, kind.ExitCode())
		if code == 0 {
			require.Equal(t, KindSuccess, kind)
		} else {
			require.NotEqual(t, KindSuccess, kind)
		}
	}
}

func TestKind_ExitCode(t *testing.T) {
	assert.Equal(t, 0, KindSuccess.ExitCode())
	assert.Equal(t, 1, KindConfiguration.ExitCode())
	assert.Equal(t, 2, KindExternalService.ExitCode())
	assert.Equal(t, 3, KindStorage.ExitCode())
	assert.Equal(t, 99, KindUnclassified.ExitCode())
	assert.Equal(t, 99, Kind("bogus").ExitCode())
}

func TestNewProcessError_PermissionDenied(t *testing.T) {
	err := NewProcessError("sync adapter failed (code 1)", 1, "PermissionError: [Errno 13] Permission denied\n")

	out := OutcomeFromError(err, "")
	assert.Equal(t, KindStorage, out.Kind)
	assert.Equal(t, ExitStorage, out.ExitCode)
	require.NotNil(t, out.AdapterCode)
	assert.Equal(t, 1, *out.AdapterCode)
	assert.Contains(t, out.Text(), "Errno 13")
}

func TestNewProcessError_ZeroExitIsNotSuccess(t *testing.T) {
	err := NewProcessError("renderer wrote nothing", 0, "")
	assert.Equal(t, KindUnclassified, err.Kind)
}

func TestOutcomeFromError(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		out := OutcomeFromError(nil, "done")
		assert.True(t, out.Success())
		assert.Equal(t, 0, out.ExitCode)
		assert.Equal(t, "done", out.Text())
	})

	t.Run("plain error is unclassified", func(t *testing.T) {
		out := OutcomeFromError(errors.New("boom"), "")
		assert.Equal(t, KindUnclassified, out.Kind)
		assert.Equal(t, 99, out.ExitCode)
	})

	t.Run("wrapped run error keeps kind", func(t *testing.T) {
		inner := NewExternalServiceError("hashi unreachable", nil)
		out := OutcomeFromError(errors.Join(errors.New("context"), inner), "")
		assert.Equal(t, KindExternalService, out.Kind)
		assert.Equal(t, 2, out.ExitCode)
	})

	t.Run("stderr excerpt is bounded", func(t *testing.T) {
		err := NewProcessError("failed", 1, strings.Repeat("x", 10000))
		out := OutcomeFromError(err, "")
		assert.LessOrEqual(t, len(out.Stderr), maxStderrExcerpt+8)
	})
}

func TestRunError_Is(t *testing.T) {
	err := NewStorageError("disk full", errors.New("ENOSPC"))
	assert.True(t, errors.Is(err, &RunError{Kind: KindStorage}))
	assert.False(t, errors.Is(err, &RunError{Kind: KindConfiguration}))
	assert.True(t, IsStorage(err))
	assert.False(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "ENOSPC")
}
