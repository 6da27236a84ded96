package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := InitLogger("test", Options{Dir: dir})
	require.NoError(t, err)
	logger.Debug("file only message")
	_ = logger.Sync()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "community-connect_test_"))

	data, err := os.ReadFile(dir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"file only message"`)
	assert.Contains(t, string(data), `"env":"test"`)
}

func TestInitLogger_ConsoleOnly(t *testing.T) {
	logger, err := InitLogger("test", Options{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
