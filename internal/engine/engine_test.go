package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/ihaveasegway/cpdr/internal/filter"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

func hashFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	h := blake3.Sum256(data)
	return h[:]
}

func TestCopy_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	result := Copy(context.Background(), src, dst, Options{
		Workers: 4,
		Events:  drainEvents(t),
	})

	require.NoError(t, result.Err)
	assert.False(t, result.Fatal)
	assert.Empty(t, result.Failures)
	verifyTreeCopy(t, src, dst)

	assert.Equal(t, int64(4), result.Stats.FilesCopied)
	assert.Equal(t, int64(1), result.Stats.SymlinksCreated)
	assert.Equal(t, int64(3), result.Stats.DirsCreated) // root, sub, sub/deep
	assert.Equal(t, int64(8), result.Stats.EntriesTotal)
}

func TestCopy_LargeRandomFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))

	bigData := make([]byte, 2*1024*1024)
	_, err := rand.Read(bigData)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), bigData, 0o644))

	result := Copy(context.Background(), src, dst, Options{Workers: 2})

	require.NoError(t, result.Err)
	assert.Equal(t, int64(len(bigData)), result.Stats.BytesCopied)
	assert.Equal(t, hashFile(t, filepath.Join(src, "big.bin")), hashFile(t, filepath.Join(dst, "big.bin")))
}

func TestCopy_EmptyDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "empty")
	dst := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(src, 0o755))

	result := Copy(context.Background(), src, dst, Options{})

	require.NoError(t, result.Err)
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCopy_MissingSourceLeavesDestinationUntouched(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")

	result := Copy(context.Background(), filepath.Join(dir, "nope"), dst, Options{})

	require.Error(t, result.Err)
	assert.True(t, result.Fatal)
	assert.ErrorIs(t, result.Err, ErrPathNotFound)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "source", result.Failures[0].Op)

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err), "destination must not be created")
}

func TestCopy_SymlinkCycleWithFollow(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "f.txt"), []byte("f"), 0o644))
	require.NoError(t, os.Symlink("..", filepath.Join(src, "a", "loop")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := Copy(ctx, src, dst, Options{FollowSymlinks: true})

	require.Error(t, result.Err)
	assert.False(t, result.Fatal)
	assert.ErrorIs(t, result.Err, ErrCyclicSymlink)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, filepath.Join(src, "a", "loop"), result.Failures[0].Path)

	data, err := os.ReadFile(filepath.Join(dst, "a", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "f", string(data))
	_, err = os.Lstat(filepath.Join(dst, "a", "loop"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopy_FollowSymlinksCopiesTargets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	shared := filepath.Join(dir, "shared")
	require.NoError(t, os.MkdirAll(shared, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shared, "s.txt"), []byte("shared"), 0o644))
	require.NoError(t, os.MkdirAll(src, 0o755))
	// Two links to the same directory are not a cycle.
	require.NoError(t, os.Symlink(shared, filepath.Join(src, "one")))
	require.NoError(t, os.Symlink(shared, filepath.Join(src, "two")))

	result := Copy(context.Background(), src, dst, Options{FollowSymlinks: true})

	require.NoError(t, result.Err)
	for _, name := range []string{"one", "two"} {
		info, err := os.Lstat(filepath.Join(dst, name))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), name)
		data, err := os.ReadFile(filepath.Join(dst, name, "s.txt"))
		require.NoError(t, err)
		assert.Equal(t, "shared", string(data))
	}
}

func TestCopy_DestinationConflict(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	first := Copy(context.Background(), src, dst, Options{})
	require.NoError(t, first.Err)

	second := Copy(context.Background(), src, dst, Options{})
	require.Error(t, second.Err)
	assert.False(t, second.Fatal)
	assert.ErrorIs(t, second.Err, ErrDestinationConflict)
	assert.Len(t, second.Failures, 5) // four files and the symlink
	for _, f := range second.Failures {
		assert.ErrorIs(t, f, ErrDestinationConflict)
	}

	third := Copy(context.Background(), src, dst, Options{Overwrite: true})
	require.NoError(t, third.Err)
	verifyTreeCopy(t, src, dst)
}

func TestCopy_IncompatibleTypeIsConflictEvenWithOverwrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "x"), []byte("file"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "x"), 0o755))

	result := Copy(context.Background(), src, dst, Options{Overwrite: true})

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], ErrDestinationConflict)
}

func TestCopy_FailFastStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	createTestTree(t, src)

	bestEffortDst := filepath.Join(dir, "best")
	require.NoError(t, Copy(context.Background(), src, bestEffortDst, Options{}).Err)
	bestEffort := Copy(context.Background(), src, bestEffortDst, Options{Workers: 1})
	assert.Len(t, bestEffort.Failures, 5)

	failFastDst := filepath.Join(dir, "fast")
	require.NoError(t, Copy(context.Background(), src, failFastDst, Options{}).Err)
	failFast := Copy(context.Background(), src, failFastDst, Options{Workers: 1, Policy: FailFast})
	require.Error(t, failFast.Err)
	assert.Len(t, failFast.Failures, 1)
}

func TestCopy_ReadOnlyDestination(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/src/a.txt", "hello")

	result := Copy(context.Background(), "/src", "/dst", Options{FS: afero.NewReadOnlyFs(mem)})

	require.Error(t, result.Err)
	assert.True(t, result.Fatal)
	assert.ErrorIs(t, result.Err, ErrPermissionDenied)

	_, err := mem.Stat("/dst")
	assert.True(t, os.IsNotExist(err))
}

func TestCopy_ReadOnlyExistingDestination(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/src/a.txt", "hello")
	writeMemFile(t, mem, "/src/d/b.txt", "world")
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	result := Copy(context.Background(), "/src", "/dst", Options{FS: afero.NewReadOnlyFs(mem)})

	require.Error(t, result.Err)
	assert.True(t, result.Fatal)
	assert.ErrorIs(t, result.Err, ErrPermissionDenied)
	assert.Empty(t, result.Failures)

	entries, err := afero.ReadDir(mem, "/dst")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCopy_DryRunSkipsWriteCheck(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/src/a.txt", "hello")
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	result := Copy(context.Background(), "/src", "/dst", Options{FS: afero.NewReadOnlyFs(mem), DryRun: true})

	require.NoError(t, result.Err)
	assert.False(t, result.Fatal)
}

func TestCopy_MemFsStreamsLargeFiles(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	big := bytes.Repeat([]byte("0123456789abcdef"), 16*1024) // 256KB
	writeMemFile(t, mem, "/src/big.bin", string(big))
	writeMemFile(t, mem, "/src/d/small.txt", "small")

	result := Copy(context.Background(), "/src", "/dst", Options{FS: mem, Workers: 2})

	require.NoError(t, result.Err)
	got, err := afero.ReadFile(mem, "/dst/big.bin")
	require.NoError(t, err)
	assert.Equal(t, big, got)
	got, err = afero.ReadFile(mem, "/dst/d/small.txt")
	require.NoError(t, err)
	assert.Equal(t, "small", string(got))
}

func TestCopy_ReadFailureLeavesNoPartialFile(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	big := bytes.Repeat([]byte("x"), 200*1024)
	writeMemFile(t, mem, "/src/big.bin", string(big))
	writeMemFile(t, mem, "/src/ok.txt", "fine")

	fs := newFaultyFs(mem, 4096, "/src/big.bin")
	result := Copy(context.Background(), "/src", "/dst", Options{FS: fs})

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "copy", result.Failures[0].Op)
	assert.False(t, result.Fatal)

	_, err := mem.Stat("/dst/big.bin")
	assert.True(t, os.IsNotExist(err), "no truncated file at the final path")

	infos, err := afero.ReadDir(mem, "/dst")
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	assert.Equal(t, []string{"ok.txt"}, names, "temp file removed")
}

func TestCopy_PermissionDeniedEntry(t *testing.T) {
	t.Parallel()
	mem := afero.NewMemMapFs()
	writeMemFile(t, mem, "/src/secret.txt", "s")
	writeMemFile(t, mem, "/src/public.txt", "p")

	result := Copy(context.Background(), "/src", "/dst", Options{FS: newFaultyFs(mem, 0, "/src/secret.txt")})

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], ErrPermissionDenied)
	assert.Equal(t, "/src/secret.txt", result.Failures[0].Path)
	assert.Equal(t, int64(1), result.Stats.FilesCopied)
	assert.Equal(t, int64(1), result.Stats.FilesFailed)
}

func TestCopy_DestinationInsideSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	createTestTree(t, dir)

	result := Copy(context.Background(), dir, filepath.Join(dir, "sub", "copy"), Options{})

	assert.True(t, result.Fatal)
	assert.ErrorIs(t, result.Err, ErrDestinationConflict)
	_, err := os.Stat(filepath.Join(dir, "sub", "copy"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopy_SingleFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	data := []byte("single file copy")
	require.NoError(t, os.WriteFile(src, data, 0o644))

	t.Run("to path", func(t *testing.T) {
		t.Parallel()
		dst := filepath.Join(dir, "out", "dst.txt")
		result := Copy(context.Background(), src, dst, Options{Workers: 1})

		require.NoError(t, result.Err)
		assert.Equal(t, int64(1), result.Stats.FilesCopied)
		assert.Equal(t, hashFile(t, src), hashFile(t, dst))
	})

	t.Run("into directory", func(t *testing.T) {
		t.Parallel()
		dstDir := filepath.Join(dir, "into")
		require.NoError(t, os.Mkdir(dstDir, 0o755))

		result := Copy(context.Background(), src, dstDir, Options{})
		require.NoError(t, result.Err)
		assert.Equal(t, hashFile(t, src), hashFile(t, filepath.Join(dstDir, "src.txt")))
	})

	t.Run("onto itself", func(t *testing.T) {
		t.Parallel()
		result := Copy(context.Background(), src, src, Options{Overwrite: true})
		assert.True(t, result.Fatal)
		assert.ErrorIs(t, result.Err, ErrDestinationConflict)
	})
}

func TestCopy_Verify(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	collector := stats.NewCollector()
	result := Copy(context.Background(), src, dst, Options{Verify: true, Stats: collector})

	require.NoError(t, result.Err)
	assert.Equal(t, int64(4), result.Stats.FilesVerified)
	assert.Equal(t, int64(0), result.Stats.FilesVerifyFailed)
	assert.Equal(t, int64(4), collector.Snapshot().FilesVerified)
}

func TestCopy_Preserve(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))

	path := filepath.Join(src, "f.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o600))
	require.NoError(t, os.Chmod(path, 0o751))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	result := Copy(context.Background(), src, dst, Options{Preserve: true})
	require.NoError(t, result.Err)

	info, err := os.Stat(filepath.Join(dst, "f.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o751), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime %v", info.ModTime())
}

func TestCopy_DryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	result := Copy(context.Background(), src, dst, Options{DryRun: true})

	require.NoError(t, result.Err)
	assert.Equal(t, int64(4), result.Stats.FilesCopied)
	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestCopy_FilterAndDepth(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	createTestTree(t, src)

	t.Run("ignore prunes subtree", func(t *testing.T) {
		t.Parallel()
		dst := filepath.Join(dir, "ignored")
		chain := filter.NewChain()
		chain.AddIgnore("sub")

		result := Copy(context.Background(), src, dst, Options{Filter: chain})
		require.NoError(t, result.Err)
		assert.Equal(t, int64(1), result.Stats.FilesSkipped)
		_, err := os.Stat(filepath.Join(dst, "sub"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(dst, "root.txt"))
		assert.NoError(t, err)
	})

	t.Run("max depth", func(t *testing.T) {
		t.Parallel()
		dst := filepath.Join(dir, "shallow")

		result := Copy(context.Background(), src, dst, Options{MaxDepth: 2})
		require.NoError(t, result.Err)
		_, err := os.Stat(filepath.Join(dst, "sub", "mid.txt"))
		assert.NoError(t, err)
		info, err := os.Stat(filepath.Join(dst, "sub", "deep"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		_, err = os.Stat(filepath.Join(dst, "sub", "deep", "leaf.txt"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestCopy_BandwidthLimited(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	result := Copy(context.Background(), src, dst, Options{BWLimit: 64 << 20})

	require.NoError(t, result.Err)
	verifyTreeCopy(t, src, dst)
}

func TestCopy_CancelledContext(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	createTestTree(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Copy(ctx, src, filepath.Join(dir, "dst"), Options{})
	assert.True(t, errors.Is(result.Err, context.Canceled))
	requireNoTempFiles(t, filepath.Join(dir, "dst"))
}
