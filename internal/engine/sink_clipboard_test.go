package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihaveasegway/cpdr/internal/clipboard"
	"github.com/ihaveasegway/cpdr/internal/filter"
	"github.com/ihaveasegway/cpdr/internal/payload"
)

func helloWorldTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c.txt"), []byte("world"), 0o644))
	return root
}

func TestCopyToClipboard_PayloadAndIdempotence(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()

	first := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{})
	require.NoError(t, first.Err)
	text, err := cb.ReadAll()
	require.NoError(t, err)

	slash := filepath.ToSlash(root)
	assert.Contains(t, text, "Tree for "+slash+":\n└── proj/\n    ├── a.txt\n    └── b/\n        └── c.txt\n")
	assert.Contains(t, text, "File: "+slash+"/a.txt\n"+strings.Repeat("-", 50)+"\nhello")
	assert.Contains(t, text, "File: "+slash+"/b/c.txt\n"+strings.Repeat("-", 50)+"\nworld")
	assert.Less(t, strings.Index(text, "/a.txt\n"), strings.Index(text, "/b/c.txt\n"))
	assert.Equal(t, len(text), first.Payload)
	assert.Equal(t, int64(2), first.Stats.FilesCopied)

	second := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{Options: Options{Workers: 7}})
	require.NoError(t, second.Err)
	again, err := cb.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, text, again)
	assert.Equal(t, 2, cb.Writes())
}

func TestCopyToClipboard_StructureOnly(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{Structure: true})
	require.NoError(t, res.Err)

	text, _ := cb.ReadAll()
	assert.Contains(t, text, "c.txt")
	assert.NotContains(t, text, "File:")
	assert.NotContains(t, text, "hello")
}

func TestCopyToClipboard_FileArgumentsSelectContents(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{filepath.Join(root, "a.txt")}, cb, ClipboardOptions{})
	require.NoError(t, res.Err)

	text, _ := cb.ReadAll()
	assert.Contains(t, text, "Tree for "+filepath.ToSlash(root)+":")
	assert.Contains(t, text, "c.txt", "tree shows the parent directory")
	assert.Contains(t, text, "hello")
	assert.NotContains(t, text, "world", "only the named file's contents")
}

func TestCopyToClipboard_JSON(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{Format: payload.JSON})
	require.NoError(t, res.Err)

	text, _ := cb.ReadAll()
	var doc payload.Document
	require.NoError(t, json.Unmarshal([]byte(text), &doc))
	require.Len(t, doc.Files, 2)
	assert.Equal(t, "hello", doc.Files[0].Content)
}

func TestCopyToClipboard_IgnoreAndSymlinks(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "__pycache__"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "__pycache__", "x.pyc"), []byte("bytecode"), 0o644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "ln")))

	chain := filter.NewChain()
	chain.AddIgnores(filter.DefaultIgnores)
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{Options: Options{Filter: chain}})
	require.NoError(t, res.Err)

	text, _ := cb.ReadAll()
	assert.NotContains(t, text, "__pycache__")
	assert.NotContains(t, text, "bytecode")
	assert.Contains(t, text, "ln -> a.txt")
	assert.Equal(t, 2, strings.Count(text, "File: "), "symlinks are not dereferenced")
}

func TestCopyToClipboard_Unavailable(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()
	cb.FailWith(clipboard.ErrUnavailable)

	res := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{})

	assert.True(t, res.Fatal)
	assert.ErrorIs(t, res.Err, ErrClipboardUnavailable)
	assert.Equal(t, int64(0), res.Stats.EntriesTotal, "aborted before traversal")
	assert.Equal(t, 0, cb.Writes())

	res = CopyToClipboard(context.Background(), []string{root}, nil, ClipboardOptions{})
	assert.True(t, res.Fatal)
	assert.ErrorIs(t, res.Err, ErrClipboardUnavailable)
}

func TestCopyToClipboard_MissingPath(t *testing.T) {
	t.Parallel()
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, cb, ClipboardOptions{})

	assert.True(t, res.Fatal)
	assert.ErrorIs(t, res.Err, ErrPathNotFound)
	assert.Equal(t, 0, cb.Writes())
}

func TestCopyToClipboard_ReadFailurePolicy(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/proj/a.txt", "hello")
	writeMemFile(t, mem, "/proj/secret.txt", "nope")
	fs := newFaultyFs(mem, 0, "/proj/secret.txt")

	t.Run("best effort publishes with error fragment", func(t *testing.T) {
		t.Parallel()
		cb := clipboard.NewMemory()
		res := CopyToClipboard(context.Background(), []string{"/proj"}, cb, ClipboardOptions{Options: Options{FS: fs}})

		require.Len(t, res.Failures, 1)
		assert.ErrorIs(t, res.Err, ErrPermissionDenied)
		assert.False(t, res.Fatal)

		text, _ := cb.ReadAll()
		assert.Contains(t, text, "File: /proj/a.txt")
		assert.Contains(t, text, "Error reading /proj/secret.txt: ")
		assert.Equal(t, 1, cb.Writes())
	})

	t.Run("fail fast publishes nothing", func(t *testing.T) {
		t.Parallel()
		cb := clipboard.NewMemory()
		res := CopyToClipboard(context.Background(), []string{"/proj"}, cb,
			ClipboardOptions{Options: Options{FS: fs, Policy: FailFast}})

		require.Error(t, res.Err)
		assert.Equal(t, 0, cb.Writes())
		assert.Zero(t, res.Payload)
	})
}

func TestCopyToClipboard_DryRun(t *testing.T) {
	t.Parallel()
	root := helloWorldTree(t)
	cb := clipboard.NewMemory()

	res := CopyToClipboard(context.Background(), []string{root}, cb, ClipboardOptions{Options: Options{DryRun: true}})

	require.NoError(t, res.Err)
	assert.Equal(t, 0, cb.Writes())
	assert.Equal(t, int64(2), res.Stats.FilesCopied)
}

func TestResolveSources(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/w/x/a.txt", "a")
	writeMemFile(t, mem, "/w/x/y/b.txt", "b")
	writeMemFile(t, mem, "/v/c.txt", "c")

	src, err := ResolveSources(mem, []string{"/w/x/y", "/v/c.txt", "/w/x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/v", "/w/x"}, src.Roots)
	assert.Equal(t, []string{"/w/x", "/w/x/y"}, src.Dirs)
	assert.True(t, src.includes("/v/c.txt"))
	assert.False(t, src.includes("/v/other.txt"))
	assert.True(t, src.includes("/w/x/y/b.txt"))
	assert.False(t, src.includes("/w/xyz/b.txt"))

	_, err = ResolveSources(mem, []string{"/missing"})
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = ResolveSources(mem, nil)
	assert.ErrorIs(t, err, ErrPathNotFound)
}
