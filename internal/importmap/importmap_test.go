package importmap

import (
	"encoding/json"
	"testing"

	"livepreview/internal/compile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultExternals(t *testing.T) {
	e := DefaultExternals()
	assert.Equal(t, 15, e.Len())
	assert.Equal(t, "react", e.Names()[0])
	loc, ok := e.Table().Get("react/jsx-runtime")
	require.True(t, ok)
	assert.Equal(t, "https://esm.sh/react@18.2.0/jsx-runtime", loc)
}

func TestNewExternalsRejectsProjectLikeNames(t *testing.T) {
	e, rejected := NewExternals(map[string]string{
		"react":          "https://esm.sh/react@18.2.0",
		"./local":        "x",
		"/abs":           "x",
		"@/components":   "x",
		"src/App":        "x",
		"App.tsx":        "x",
		"util.js":        "x",
		"@scope/pkg":     "https://esm.sh/@scope/pkg",
		"empty-locator":  "",
		"chart.js/auto":  "https://esm.sh/chart.js/auto",
	})

	assert.Equal(t, []string{"@scope/pkg", "chart.js/auto", "react"}, e.Names())

	var names []string
	for _, r := range rejected {
		names = append(names, r.Name)
		assert.NotEmpty(t, r.Reason)
	}
	assert.ElementsMatch(t, []string{"./local", "/abs", "@/components", "src/App", "App.tsx", "util.js", "empty-locator"}, names)
}

func TestExternalsWithKeepsExisting(t *testing.T) {
	e, rejected := DefaultExternals().With(map[string]string{
		"react": "https://example.invalid/react",
		"three": "https://esm.sh/three@0.160.0",
		"./x":   "y",
	})
	require.Len(t, rejected, 1)

	loc, _ := e.Table().Get("react")
	assert.Equal(t, "https://esm.sh/react@18.2.0", loc)
	assert.True(t, e.Has("three"))
	assert.Equal(t, 16, e.Len())
	assert.Equal(t, 15, DefaultExternals().Len())
}

func TestSynthesizeOrderAndUniqueness(t *testing.T) {
	ext, _ := NewExternals(map[string]string{"react": "https://esm.sh/react"})
	units := []compile.Unit{
		{Path: "src/App.tsx", Locator: "data:a"},
		{Path: "src/index.tsx", Locator: "data:b"},
		{Path: "react", Locator: "data:shadow"},
		{Path: "src/App.tsx", Locator: "data:dup"},
	}

	table, skipped := Synthesize(ext, units)
	assert.Equal(t, []string{"react", "src/App.tsx", "src/index.tsx"}, table.Specifiers())
	assert.Equal(t, []string{"react", "src/App.tsx"}, skipped)

	loc, _ := table.Get("react")
	assert.Equal(t, "https://esm.sh/react", loc)
	loc, _ = table.Get("src/App.tsx")
	assert.Equal(t, "data:a", loc)
}

func TestMarshalKeepsInsertionOrder(t *testing.T) {
	var table Table
	table.Add("zeta", "https://z")
	table.Add("alpha", "https://a")
	table.Add("</script>", "data:x")

	data, err := json.Marshal(table)
	require.NoError(t, err)
	assert.Equal(t, `{"imports":{"zeta":"https://z","alpha":"https://a","\u003c/script\u003e":"data:x"}}`, string(data))

	var decoded struct {
		Imports map[string]string `json:"imports"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Imports, 3)
}

func TestEmptyTableMarshals(t *testing.T) {
	data, err := json.Marshal(Table{})
	require.NoError(t, err)
	assert.Equal(t, `{"imports":{}}`, string(data))
}
