package style

import (
	"testing"

	"livepreview/internal/project"

	"github.com/stretchr/testify/assert"
)

func TestAggregateKeyOrderWithProvenance(t *testing.T) {
	s := project.MustSnapshot(map[string]string{
		"src/index.css":      "body { margin: 0; }",
		"src/App.css":        ".app { color: red; }\n",
		"src/App.tsx":        "export default 1",
		"styles/globals.css": "",
	})

	want := "/* src/App.css */\n.app { color: red; }\n" +
		"/* src/index.css */\nbody { margin: 0; }\n" +
		"/* styles/globals.css */\n\n"
	assert.Equal(t, want, Aggregate(s))
}

func TestAggregateKeepsFullContent(t *testing.T) {
	content := "@tailwind base;\n@tailwind components;\n.x::after { content: '*/'; }\n"
	s := project.MustSnapshot(map[string]string{"a.css": content})
	assert.Contains(t, Aggregate(s), content)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Equal(t, "", Aggregate(project.MustSnapshot(map[string]string{"a.ts": ""})))
	assert.Equal(t, "", Aggregate(project.Snapshot{}))
}

func TestConcatEscapesPathComments(t *testing.T) {
	got := Concat([]project.VirtualFile{{Path: "weird*/name.css", Content: "a{}"}})
	assert.Equal(t, "/* weird* /name.css */\na{}\n", got)
}
