package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func TestSearchFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Documents/Invoice-2024.pdf",
		"Documents/notes.txt",
		"Downloads/invoice_march.PDF",
		".hidden/invoice.pdf",
		"node_modules/pkg/invoice.js",
		"Pictures/cat.png",
	)
	ctx := context.Background()

	got, err := searchFiles(ctx, root, "invoice", 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "Documents", "Invoice-2024.pdf"),
		filepath.Join(root, "Downloads", "invoice_march.PDF"),
	}, got)

	got, err = searchFiles(ctx, root, "*.pdf", 20)
	require.NoError(t, err)
	assert.Len(t, got, 2, "globs match case-insensitively")

	got, err = searchFiles(ctx, root, "*.pdf", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = searchFiles(ctx, root, "[", 20)
	assert.Error(t, err)

	_, err = searchFiles(ctx, filepath.Join(root, "missing"), "x", 20)
	assert.Error(t, err)
}

func TestSearchFilesCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/b.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := searchFiles(ctx, root, "b", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchFilesTool(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "report.docx", "summary.docx")

	res := executeSearchFiles(context.Background(), mustArgs(t, map[string]any{"query": ".docx", "directory": root, "max_results": 5}))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Found 2 file(s) matching ".docx"`, res.Message)
	assert.Len(t, strings.Split(res.Details, "\n"), 2)

	res = executeSearchFiles(context.Background(), mustArgs(t, map[string]any{"query": "absent", "directory": root}))
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "No files found")

	res = executeSearchFiles(context.Background(), mustArgs(t, map[string]any{"query": ""}))
	assert.False(t, res.Success)
}
