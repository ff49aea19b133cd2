package openlibrary_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/coverage/internal/coverage"
	"github.com/openshelf/coverage/internal/local"
	"github.com/openshelf/coverage/internal/providers/openlibrary"
)

func TestRepositorySinkFlushesJSONLines(t *testing.T) {
	tempDir := t.TempDir()
	sink := openlibrary.NewRepositorySink(local.New(tempDir))

	ctx := context.Background()

	// An empty flush writes nothing.
	require.NoError(t, sink.Flush(ctx))
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	items := []coverage.Identifier{
		{Type: "ISBN", Value: "9780140328721"},
		{Type: "ISBN", Value: "9780141036144"},
	}
	for _, item := range items {
		require.NoError(t, sink.Apply(ctx, item, openlibrary.Edition{Title: "t-" + item.Value}))
	}
	require.NoError(t, sink.Flush(ctx))

	// The next batch lands in its own file.
	require.NoError(t, sink.Apply(ctx, items[0], openlibrary.Edition{Title: "again"}))
	require.NoError(t, sink.Flush(ctx))

	f, err := os.Open(filepath.Join(tempDir, "editions-000000.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			Identifier coverage.Identifier `json:"identifier"`
			Edition    openlibrary.Edition `json:"edition"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "ISBN", entry.Identifier.Type)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)

	_, err = os.Stat(filepath.Join(tempDir, "editions-000001.jsonl"))
	assert.NoError(t, err)
}
