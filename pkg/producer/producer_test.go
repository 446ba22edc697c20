package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
)

// fakeProducer is an HTTP producer that writes its artifact on /export.
type fakeProducer struct {
	name     string
	artifact string
	token    string
	noWrite  bool

	pings   atomic.Int32
	exports atomic.Int32
}

func (f *fakeProducer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/ping":
		f.pings.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "name": f.name})
	case "/export":
		f.exports.Add(1)
		if f.token != "" && r.URL.Query().Get("token") != f.token {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "bad token"})
			return
		}
		if f.artifact != "" && !f.noWrite {
			_ = os.MkdirAll(filepath.Dir(f.artifact), 0o755)
			_ = os.WriteFile(f.artifact, []byte(`{"cards":1}`), 0o644)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "name": f.name})
	default:
		http.NotFound(w, r)
	}
}

func startProducer(t *testing.T, f *fakeProducer) int {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func hashiEndpoint(port int, artifact string) config.Endpoint {
	return config.Endpoint{
		Name:           "hashi",
		Kind:           config.KindHTTP,
		Enabled:        true,
		Host:           "127.0.0.1",
		Port:           port,
		Identity:       "Hashi",
		RefreshTimeout: 2 * time.Second,
		StaleTolerance: config.DefaultStaleTolerance,
		RequireFresh:   true,
		ArtifactPath:   artifact,
	}
}

func newTestClient() *Client {
	c := NewClient()
	c.PingTimeout = 500 * time.Millisecond
	c.ExportTimeout = time.Second
	return c
}

func TestClient_Locate(t *testing.T) {
	ctx := context.Background()

	t.Run("configured port answers", func(t *testing.T) {
		port := startProducer(t, &fakeProducer{name: "Hashi"})
		c := newTestClient()
		got, err := c.Locate(ctx, hashiEndpoint(port, ""))
		require.NoError(t, err)
		assert.Equal(t, port, got)
	})

	t.Run("fallback used for this run only", func(t *testing.T) {
		conflict := &fakeProducer{name: "AnkiConnect"}
		conflictPort := startProducer(t, conflict)
		hashi := &fakeProducer{name: "Hashi"}
		hashiPort := startProducer(t, hashi)

		c := newTestClient()
		c.Fallbacks = map[int]int{conflictPort: hashiPort}
		ep := hashiEndpoint(conflictPort, "")

		for i := 1; i <= 2; i++ {
			got, err := c.Locate(ctx, ep)
			require.NoError(t, err)
			assert.Equal(t, hashiPort, got)
			assert.Equal(t, int32(i), conflict.pings.Load(), "configured port must be tried first every time")
		}
		assert.Equal(t, conflictPort, ep.Port)
	})

	t.Run("no fallback for other ports", func(t *testing.T) {
		hashiPort := startProducer(t, &fakeProducer{name: "Hashi"})
		c := newTestClient()
		c.Fallbacks = map[int]int{ConflictPort: hashiPort}

		_, err := c.Locate(ctx, hashiEndpoint(closedPort(t), ""))
		assert.Error(t, err)
	})

	t.Run("wrong identity", func(t *testing.T) {
		port := startProducer(t, &fakeProducer{name: "AnkiConnect"})
		c := newTestClient()
		_, err := c.Locate(ctx, hashiEndpoint(port, ""))
		assert.ErrorIs(t, err, ErrNotIdentified)
	})

	t.Run("default fallback is the conflict port only", func(t *testing.T) {
		c := NewClient()
		assert.Equal(t, map[int]int{8765: 8766}, c.Fallbacks)
	})
}

func TestClient_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("token is sent", func(t *testing.T) {
		f := &fakeProducer{name: "Hashi", token: "s3cret"}
		port := startProducer(t, f)
		ep := hashiEndpoint(port, "")
		ep.Token = "s3cret"

		require.NoError(t, newTestClient().Export(ctx, ep, port))
		assert.Equal(t, int32(1), f.exports.Load())
	})

	t.Run("http error carries producer message without token", func(t *testing.T) {
		port := startProducer(t, &fakeProducer{name: "Hashi", token: "s3cret"})
		ep := hashiEndpoint(port, "")
		ep.Token = "wrong"

		err := newTestClient().Export(ctx, ep, port)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
		assert.Contains(t, err.Error(), "bad token")
		assert.NotContains(t, err.Error(), "wrong")
	})

	t.Run("wrong service", func(t *testing.T) {
		port := startProducer(t, &fakeProducer{name: "AnkiConnect"})
		err := newTestClient().Export(ctx, hashiEndpoint(port, ""), port)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "occupied by another add-on")
	})
}

func TestWaitForUpdate(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		assert.NoError(t, WaitForUpdate(context.Background(), "", ArtifactState{}, time.Millisecond))
	})

	t.Run("artifact written later", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stats.json")
		before, err := ProbeArtifact(path)
		require.NoError(t, err)
		require.False(t, before.Exists)

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = os.WriteFile(path, []byte("{}"), 0o644)
		}()
		assert.NoError(t, WaitForUpdate(context.Background(), path, before, 5*time.Second))
	})

	t.Run("artifact rewritten", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stats.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))
		before, err := ProbeArtifact(path)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = os.WriteFile(path, []byte(`{"a":1}`), 0o644)
		}()
		assert.NoError(t, WaitForUpdate(context.Background(), path, before, 5*time.Second))
	})

	t.Run("deadline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stats.json")
		err := WaitForUpdate(context.Background(), path, ArtifactState{Path: path}, 300*time.Millisecond)
		assert.ErrorIs(t, err, ErrNotUpdated)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WaitForUpdate(ctx, filepath.Join(t.TempDir(), "x"), ArtifactState{}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestArtifactState(t *testing.T) {
	now := time.Now()
	missing := ArtifactState{}
	_, ok := missing.Age(now)
	assert.False(t, ok)

	older := ArtifactState{Exists: true, ModTime: now.Add(-time.Minute)}
	newer := ArtifactState{Exists: true, ModTime: now}
	age, ok := older.Age(now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, age)

	assert.True(t, newer.UpdatedSince(older))
	assert.False(t, older.UpdatedSince(newer))
	assert.False(t, older.UpdatedSince(older))
	assert.True(t, older.UpdatedSince(missing))
	assert.False(t, missing.UpdatedSince(missing))
}

func newTestRefresher(t *testing.T) *Refresher {
	root := t.TempDir()
	r := NewRefresher(config.Paths{Root: root, AppRoot: root})
	r.Client.PingTimeout = 500 * time.Millisecond
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRefresher_Close(t *testing.T) {
	r := NewRefresher(config.Paths{})
	var _ io.Closer = r
	assert.NoError(t, r.Close())
	assert.NoError(t, (&Refresher{}).Close())
}

func TestRefresher_Fresh(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "hashi_exports", "anki_stats_snapshot.json")
	f := &fakeProducer{name: "Hashi", artifact: artifact}
	port := startProducer(t, f)

	res, err := newTestRefresher(t).Refresh(context.Background(), hashiEndpoint(port, artifact))

	require.NoError(t, err)
	assert.Equal(t, engine.RefreshFresh, res.Outcome)
	assert.Equal(t, port, res.Port)
	assert.Empty(t, res.Warnings)
	assert.FileExists(t, artifact)
}

func TestRefresher_FallbackPort(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "stats.json")
	conflictPort := startProducer(t, &fakeProducer{name: "AnkiConnect"})
	hashi := &fakeProducer{name: "Hashi", artifact: artifact}
	hashiPort := startProducer(t, hashi)

	r := newTestRefresher(t)
	r.Client.Fallbacks = map[int]int{conflictPort: hashiPort}

	res, err := r.Refresh(context.Background(), hashiEndpoint(conflictPort, artifact))

	require.NoError(t, err)
	assert.Equal(t, engine.RefreshFresh, res.Outcome)
	assert.Equal(t, hashiPort, res.Port)
	assert.Equal(t, int32(1), hashi.exports.Load())
}

func TestRefresher_Unreachable(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "stats.json")
	require.NoError(t, os.WriteFile(artifact, []byte("{}"), 0o644))
	mtime := time.Now().Add(-5 * time.Minute)
	require.NoError(t, os.Chtimes(artifact, mtime, mtime))

	tests := []struct {
		name        string
		requireFull bool
		artifact    string
		now         time.Time
		want        engine.RefreshOutcome
		wantErr     bool
	}{
		{"optional freshness skips", false, artifact, time.Now(), engine.RefreshSkipped, false},
		{"recent artifact tolerated", true, artifact, time.Now(), engine.RefreshStale, false},
		{"old artifact fails", true, artifact, mtime.Add(11 * time.Minute), "", true},
		{"missing artifact fails", true, filepath.Join(dir, "missing.json"), time.Now(), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefresher(t)
			r.Client.Fallbacks = nil
			now := tt.now
			r.Now = func() time.Time { return now }
			ep := hashiEndpoint(closedPort(t), tt.artifact)
			ep.RequireFresh = tt.requireFull

			res, err := r.Refresh(context.Background(), ep)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.IsExternalService(err))
				assert.Equal(t, 2, engine.KindOf(err).ExitCode())
				assert.Contains(t, err.Error(), "AnkiConnect")
				assert.Contains(t, err.Error(), "8765")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Len(t, res.Warnings, 1)
		})
	}
}

func TestRefresher_ExportDoesNotUpdate(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "stats.json")
	port := startProducer(t, &fakeProducer{name: "Hashi", artifact: artifact, noWrite: true})

	ep := hashiEndpoint(port, artifact)
	ep.RefreshTimeout = 300 * time.Millisecond

	_, err := newTestRefresher(t).Refresh(context.Background(), ep)
	require.Error(t, err)
	assert.True(t, engine.IsExternalService(err))
	assert.Contains(t, err.Error(), "export did not update at "+artifact)

	ep.RequireFresh = false
	res, err := newTestRefresher(t).Refresh(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, engine.RefreshSkipped, res.Outcome)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "did not update")
}

func TestRefresher_ProcessProducer(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	artifact := filepath.Join(t.TempDir(), "snapshot.json")

	ep := config.Endpoint{
		Name:           "anki_snapshot",
		Kind:           config.KindProcess,
		Enabled:        true,
		RefreshTimeout: 5 * time.Second,
		RequireFresh:   true,
		ArtifactPath:   artifact,
		Command:        []string{os.Args[0], "-test.run=TestHelperProcess", "--", "write", artifact},
	}

	res, err := newTestRefresher(t).Refresh(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, engine.RefreshFresh, res.Outcome)
	assert.FileExists(t, artifact)

	ep.Command = []string{os.Args[0], "-test.run=TestHelperProcess", "--", "fail"}
	_, err = newTestRefresher(t).Refresh(context.Background(), ep)
	require.Error(t, err)
	assert.True(t, engine.IsExternalService(err))
	var re *engine.RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "anki_snapshot", re.Producer)
	assert.Contains(t, err.Error(), "collection is locked")
}

// TestHelperProcess is not a real test; it stands in for exporter commands.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "write":
		if os.Getenv(config.EnvUserRoot) == "" {
			fmt.Fprintln(os.Stderr, "TOKEI_USER_ROOT not set")
			os.Exit(3)
		}
		if err := os.WriteFile(args[2], []byte("{}"), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "collection is locked")
		os.Exit(1)
	}
	os.Exit(2)
}
