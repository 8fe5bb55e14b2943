package patcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"midaslauncher/internal/manifest"
)

func TestEssentialFilterScenarios(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Root.wad", true},
		{"Bin/ClientApp.exe", true},
		{"PatchClient/PatchClient.exe", true},
		{"GameData/GUI.wad", true},
		{"GameData/readme.xml", true},
		{"GameData/Root.wad", true},
		{"GameData/World1.wad", false},
		{"Unrelated/extra.dat", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, essential(c.name), c.name)
	}
}

func TestWritePathRewritesWindowsBin(t *testing.T) {
	require.Equal(t, "Bin/ClientApp.exe", writePath("Windows/Bin/ClientApp.exe"))
	require.Equal(t, "GameData/Root.wad", writePath("GameData/Root.wad"))
}

func TestChunksPartitionsIntoAtMostN(t *testing.T) {
	files := make([]manifest.PatchFile, 7)
	got := chunks(files, 3)
	require.Len(t, got, 3)

	total := 0
	for _, c := range got {
		total += len(c)
	}
	require.Equal(t, 7, total)
}

func TestDownloadIsIdempotentAndFiltersNonEssential(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	files := []manifest.PatchFile{
		{SrcName: "Root.wad"},
		{SrcName: "GameData/World1.wad"}, // filtered out by only_essential
		{SrcName: "Windows/Bin/ClientApp.exe"},
	}

	cfg := Config{
		BaseURL:       srv.URL,
		GameDir:       dir,
		Workers:       2,
		OnlyEssential: true,
		RetryBackoff:  time.Millisecond,
	}

	require.NoError(t, Download(context.Background(), cfg, files))
	require.Equal(t, 2, hits) // Root.wad + rewritten Bin/ClientApp.exe, not the filtered .wad

	require.FileExists(t, filepath.Join(dir, "Root.wad"))
	require.FileExists(t, filepath.Join(dir, "Bin/ClientApp.exe"))
	require.NoFileExists(t, filepath.Join(dir, "GameData/World1.wad"))

	// Re-running must not re-fetch: destinations already exist.
	require.NoError(t, Download(context.Background(), cfg, files))
	require.Equal(t, 2, hits)
}

func TestDownloadRetriesTransportErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := Config{
		BaseURL:      srv.URL,
		GameDir:      dir,
		Workers:      1,
		RetryBackoff: time.Millisecond,
	}

	files := []manifest.PatchFile{{SrcName: "Root.wad"}}
	require.NoError(t, Download(context.Background(), cfg, files))
	require.GreaterOrEqual(t, attempts, 3)
	require.FileExists(t, filepath.Join(dir, "Root.wad"))
}

func TestDownloadGivesUpAfterMaxRetries(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := Config{
		BaseURL:      srv.URL,
		GameDir:      dir,
		Workers:      1,
		RetryBackoff: time.Millisecond,
		MaxRetries:   2,
	}

	files := []manifest.PatchFile{{SrcName: "Root.wad"}}
	err := Download(context.Background(), cfg, files)
	require.Error(t, err)
	require.Equal(t, 2, attempts)
	require.NoFileExists(t, filepath.Join(dir, "Root.wad"))
}

// TestDownloadIsolatesFailuresPerWorker verifies a FilesystemError in one
// worker's chunk does not abort an unrelated worker's in-flight download —
// only the affected worker's chunk stops early.
func TestDownloadIsolatesFailuresPerWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	// "blocked" exists as a plain file, so MkdirAll for any path under it
	// fails with ENOTDIR — this worker's chunk must fail without touching
	// the other worker's chunk.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked"), []byte("x"), 0o644))

	cfg := Config{
		BaseURL:      srv.URL,
		GameDir:      dir,
		Workers:      2,
		RetryBackoff: time.Millisecond,
	}

	files := []manifest.PatchFile{
		{SrcName: "blocked/file.bin"},
		{SrcName: "ok/good.bin"},
	}

	err := Download(context.Background(), cfg, files)
	require.Error(t, err)
	require.FileExists(t, filepath.Join(dir, "ok/good.bin"))
}
