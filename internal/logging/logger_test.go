package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core), cats)
	t.Cleanup(func() { Use(nil, nil) })
	return logs
}

func TestAllCategoriesLog(t *testing.T) {
	logs := observe(t, nil)

	categories := []Category{
		CategoryBoot, CategoryProject, CategoryResolve, CategoryCompile,
		CategoryDocument, CategorySandbox, CategoryRebuild, CategoryServer, CategoryStore,
	}
	for _, cat := range categories {
		require.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		Get(cat).Info("hello from %s", cat)
	}

	require.Equal(t, len(categories), logs.Len())
	for i, entry := range logs.All() {
		assert.Equal(t, string(categories[i]), entry.LoggerName)
		assert.Equal(t, "hello from "+string(categories[i]), entry.Message)
	}
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, map[string]bool{"compile": false})

	Compile("should not appear")
	CompileDebug("nor this")
	Rebuild("generation %d", 7)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "generation 7", logs.All()[0].Message)
}

func TestWithGenerationAddsField(t *testing.T) {
	logs := observe(t, nil)

	WithGeneration(CategoryRebuild, 42).Info("applied")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 42, fields["generation"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryCompile, "compile units")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.True(t, strings.HasPrefix(entry.Message, "compile units took"))
}

func TestInitializeWritesFile(t *testing.T) {
	t.Cleanup(func() { Use(nil, nil) })
	path := filepath.Join(t.TempDir(), "logs", "preview.log")

	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", File: path}))
	Boot("booted")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"booted"`)
	assert.Contains(t, string(data), `"logger":"boot"`)
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	err := Initialize(Options{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}
