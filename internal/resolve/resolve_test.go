package resolve

import (
	"testing"

	"livepreview/internal/project"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		base, spec, want string
	}{
		{"src/App.tsx", "./Button", "src/Button"},
		{"src/components/Card.tsx", "../lib/util", "src/lib/util"},
		{"src/components/Card.tsx", "./../../index", "index"},
		{"a.tsx", "./missing", "missing"},
		{"a.tsx", "../../../x", "x"},
		{"src/deep/nested/File.tsx", "@/lib/util", "src/lib/util"},
		{"whatever.tsx", "@/./a//b/../c", "src/a/c"},
		{"/src/App.tsx", "./x", "src/x"},
		{"src/App.tsx", "react", "react"},
		{"src/App.tsx", "react-dom/client", "react-dom/client"},
		{"src/App.tsx", ".", "src"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"|"+tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.base, tt.spec))
		})
	}
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("./a"))
	assert.True(t, IsLocal("../a"))
	assert.True(t, IsLocal("@/a"))
	assert.False(t, IsLocal("@tanstack/query"))
	assert.False(t, IsLocal("react"))
	assert.False(t, IsLocal("src/App"))
}

func TestCleanPathIsIdempotent(t *testing.T) {
	for _, p := range []string{"src/App.tsx", "/src/./a/../App.tsx", "../x.ts", "a//b.ts"} {
		once := CleanPath(p)
		assert.Equal(t, once, CleanPath(once), "path %q", p)
	}
	assert.Equal(t, "src/App.tsx", CleanPath("/src/./a/../App.tsx"))
}

func TestResolveIsIdempotentForConcretePaths(t *testing.T) {
	snap := project.MustSnapshot(map[string]string{
		"src/App.tsx":         "",
		"src/lib/index.ts":    "",
		"foo.ts":              "",
		"data.json":           "",
		"src/components/A.js": "",
	})
	r := NewResolver(snap)
	for _, p := range snap.Paths() {
		got, ok := r.Resolve(p)
		require.True(t, ok, p)
		assert.Equal(t, p, got)
	}
}

func TestProbeOrderPrefersExtensionOverIndex(t *testing.T) {
	snap := project.MustSnapshot(map[string]string{
		"foo.ts":       "",
		"foo/index.ts": "",
		"bar.tsx":      "",
	})
	r := NewResolver(snap)

	res := r.ResolveSpecifier("bar.tsx", "./foo")
	assert.Equal(t, "foo.ts", res.Resolved)
}

func TestProbeOrder(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		path  string
		want  string
	}{
		{"exact wins", []string{"a", "a.tsx"}, "a", "a"},
		{"tsx before ts", []string{"a.ts", "a.tsx"}, "a", "a.tsx"},
		{"ts before jsx", []string{"a.jsx", "a.ts"}, "a", "a.ts"},
		{"index fallback", []string{"a/index.js"}, "a", "a/index.js"},
		{"index tsx before index js", []string{"a/index.js", "a/index.tsx"}, "a", "a/index.tsx"},
		{"root files beat src retry", []string{"a/index.js", "src/a.tsx"}, "a", "a/index.js"},
		{"src retry", []string{"src/components/Button.tsx"}, "components/Button", "src/components/Button.tsx"},
		{"src retry index", []string{"src/hooks/index.ts"}, "hooks", "src/hooks/index.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]string{}
			for _, f := range tt.files {
				raw[f] = ""
			}
			got, ok := NewResolver(project.MustSnapshot(raw)).Resolve(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoSrcRetryForSrcPaths(t *testing.T) {
	r := NewResolver(project.MustSnapshot(map[string]string{"src/src/a.ts": ""}))
	_, ok := r.Resolve("src/a")
	assert.False(t, ok)
}

func TestAliasEquivalence(t *testing.T) {
	snap := project.MustSnapshot(map[string]string{
		"src/components/ui/Button.tsx": "",
		"src/lib/util.ts":              "",
		"src/hooks/index.ts":           "",
		"src/App.tsx":                  "",
	})
	r := NewResolver(snap)

	pairs := []struct{ from, rel, alias string }{
		{"src/components/ui/Button.tsx", "../../lib/util", "@/lib/util"},
		{"src/App.tsx", "./hooks", "@/hooks"},
		{"src/components/ui/Button.tsx", "../../App", "@/App"},
		{"src/App.tsx", "./components/ui/Button", "@/components/ui/Button"},
	}
	for _, p := range pairs {
		a := r.ResolveSpecifier(p.from, p.rel)
		b := r.ResolveSpecifier(p.from, p.alias)
		require.True(t, a.OK(), "%s from %s", p.rel, p.from)
		assert.Equal(t, a.Resolved, b.Resolved)
	}
}

func TestResolveSpecifierFailures(t *testing.T) {
	r := NewResolver(project.MustSnapshot(map[string]string{"a.tsx": ""}))

	missing := r.ResolveSpecifier("a.tsx", "./missing")
	assert.False(t, missing.OK())
	assert.Equal(t, ResolvedImport{FromPath: "a.tsx", Raw: "./missing"}, missing)

	external := r.ResolveSpecifier("a.tsx", "react")
	assert.False(t, external.OK())

	_, ok := r.Resolve("")
	assert.False(t, ok)
}

func TestCandidates(t *testing.T) {
	got := Candidates("x")
	assert.Len(t, got, 18)
	assert.Equal(t, "x", got[0])
	assert.Equal(t, "x.tsx", got[1])
	assert.Equal(t, "x/index.tsx", got[5])
	assert.Equal(t, "src/x", got[9])

	assert.Len(t, Candidates("src/x"), 9)
}
