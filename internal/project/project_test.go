package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewSnapshotNormalizesKeys(t *testing.T) {
	s, err := NewSnapshot(map[string]string{
		"/src/App.tsx":  "app",
		"//styles.css":  "body{}",
		"src/index.tsx": "index",
		"/":             "dropped",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/App.tsx", "src/index.tsx", "styles.css"}, s.Paths())
	got, ok := s.Get("styles.css")
	require.True(t, ok)
	assert.Equal(t, "body{}", got)
}

func TestNewSnapshotRejectsCollisions(t *testing.T) {
	_, err := NewSnapshot(map[string]string{
		"/src/App.tsx": "a",
		"src/App.tsx":  "b",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathCollision)
}

func TestSnapshotSplit(t *testing.T) {
	s := MustSnapshot(map[string]string{
		"b.css":       "b",
		"a.css":       "a",
		"src/App.tsx": "x",
		"data.json":   "{}",
	})
	styles, scripts := s.Split()
	assert.Equal(t, []VirtualFile{{"a.css", "a"}, {"b.css", "b"}}, styles)
	assert.Equal(t, []VirtualFile{{"data.json", "{}"}, {"src/App.tsx", "x"}}, scripts)
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := MustSnapshot(map[string]string{"a.ts": "1"})
	m := s.Map()
	m["a.ts"] = "2"
	m["b.ts"] = "3"

	got, _ := s.Get("a.ts")
	assert.Equal(t, "1", got)
	assert.False(t, s.Has("b.ts"))
}

func TestDecodeActions(t *testing.T) {
	data := []byte(`[
		{"action":"create","path":"/src/App.tsx","content":"app"},
		{"action":"UPDATE","path":"src/App.tsx","content":"app2"},
		{"action":"delete","path":"old.ts"}
	]`)
	actions, err := DecodeActions(data)
	require.NoError(t, err)

	want := []FileAction{
		Create{Path: "/src/App.tsx", Content: "app"},
		Update{Path: "src/App.tsx", Content: "app2"},
		Delete{Path: "old.ts"},
	}
	if diff := cmp.Diff(want, actions); diff != "" {
		t.Errorf("decoded actions mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeActionsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad json", `{`, "failed to decode"},
		{"unknown action", `[{"action":"rename","path":"a"}]`, "unknown action"},
		{"missing path", `[{"action":"create","path":"/"}]`, "missing path"},
		{"update without content", `[{"action":"update","path":"a.ts"}]`, "no content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeActions([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncodeAction(t *testing.T) {
	data, err := EncodeAction(Delete{Path: "/a.ts"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"delete","path":"a.ts"}`, string(data))

	data, err = EncodeAction(Create{Path: "b.ts", Content: ""})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"create","path":"b.ts","content":""}`, string(data))
}

func TestApply(t *testing.T) {
	base := MustSnapshot(map[string]string{"a.ts": "1", "b.ts": "2"})

	next := Apply(base,
		Update{Path: "a.ts", Content: "10"},
		Create{Path: "/c.ts", Content: "3"},
		Delete{Path: "b.ts"},
		Delete{Path: "missing.ts"},
		Create{Path: "", Content: "ignored"},
	)

	assert.Equal(t, []string{"a.ts", "c.ts"}, next.Paths())
	got, _ := next.Get("a.ts")
	assert.Equal(t, "10", got)

	// the base snapshot is untouched
	assert.Equal(t, []string{"a.ts", "b.ts"}, base.Paths())
}

func TestMemoryNotifiesOnApply(t *testing.T) {
	m := NewMemory(Snapshot{})

	m.Apply(Create{Path: "a.ts", Content: "1"})
	m.Apply(Create{Path: "b.ts", Content: "2"})

	select {
	case <-m.Changes():
	default:
		t.Fatal("expected a pending change notification")
	}
	select {
	case <-m.Changes():
		t.Fatal("bursts should collapse into one notification")
	default:
	}

	s, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestMemorySnapshotHonorsContext(t *testing.T) {
	m := NewMemory(MustSnapshot(map[string]string{"a.ts": ""}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDirSnapshotSkipsToolingDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/App.tsx", "app")
	writeFile(t, root, "src/styles.css", "body{}")
	writeFile(t, root, "node_modules/react/index.js", "nope")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, ".preview/config.yaml", "x: 1")

	d, err := NewDir(root, 0)
	require.NoError(t, err)

	s, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/App.tsx", "src/styles.css"}, s.Paths())
}

func TestDirSnapshotSkipsDotfiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/App.tsx", "app")
	writeFile(t, root, ".env", "SECRET_TOKEN=hunter2\n")
	writeFile(t, root, ".env.local", "SECRET_TOKEN=hunter3\n")
	writeFile(t, root, "src/.secrets.json", "{}")
	writeFile(t, root, ".vscode/settings.json", "{}")

	d, err := NewDir(root, 0)
	require.NoError(t, err)

	s, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/App.tsx"}, s.Paths())
	for _, p := range s.Paths() {
		got, _ := s.Get(p)
		assert.NotContains(t, got, "hunter2")
	}
}

func TestDirTinyDebounceDoesNotPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	d, err := NewDir(root, 2)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		require.NoError(t, d.Start(context.Background()))
	})
	d.Stop()
}

func TestNewDirRejectsFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.txt", "x")

	_, err := NewDir(filepath.Join(root, "file.txt"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestDirWatchDebouncesChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFile(t, root, "src/App.tsx", "v1")

	d, err := NewDir(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	writeFile(t, root, "src/App.tsx", "v2")
	writeFile(t, root, "src/lib/util.ts", "export const x = 1")

	select {
	case <-d.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	s, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	got, _ := s.Get("src/App.tsx")
	assert.Equal(t, "v2", got)
	assert.True(t, s.Has("src/lib/util.ts"))
	assert.GreaterOrEqual(t, d.Stats().Notifications, 1)
}

func TestDirIgnoresSkippedDirs(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, 0)
	require.NoError(t, err)

	assert.True(t, d.ignored("node_modules/react/index.js"))
	assert.True(t, d.ignored(".preview/standalone/3.html"))
	assert.True(t, d.ignored(".env"))
	assert.True(t, d.ignored("src/.cache/x.ts"))
	assert.False(t, d.ignored("src/App.tsx"))
}
