// Package patcher fans a manifest's PatchFile list out across a bounded
// worker pool and fetches each one over HTTP, matching the reference
// client's chunk-per-worker download loop but replacing its hand-rolled
// tokio::task::spawn fan-out with golang.org/x/sync/errgroup.
package patcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"midaslauncher/internal/manifest"
	"midaslauncher/internal/xerrors"
)

// Config controls how a Download call partitions and filters work.
type Config struct {
	BaseURL       string
	GameDir       string
	Workers       int
	OnlyEssential bool
	RetryBackoff  time.Duration
	MaxRetries    int // 0 = retry indefinitely, matching the reference client
	HTTPClient    *http.Client
}

// essential reports whether file should be kept under the only_essential
// filter, mirroring PatchClient::patch's two-stage predicate exactly.
func essential(srcName string) bool {
	if !strings.Contains(srcName, "Root.wad") &&
		!strings.Contains(srcName, "Bin") &&
		!strings.Contains(srcName, "PatchClient") &&
		!strings.Contains(srcName, "GameData") {
		return false
	}
	if strings.Contains(srcName, "GameData") &&
		strings.Contains(srcName, ".wad") &&
		!strings.Contains(srcName, "Root.wad") &&
		!strings.Contains(srcName, "GUI") &&
		!strings.Contains(srcName, ".xml") {
		return false
	}
	return true
}

// writePath rewrites the Windows/Bin/ prefix to Bin/ for the on-disk
// destination, leaving the fetch URL (which still uses src_name) alone.
func writePath(srcName string) string {
	if strings.Contains(srcName, "Windows/Bin/") {
		return strings.ReplaceAll(srcName, "Windows/Bin/", "Bin/")
	}
	return srcName
}

// chunks splits files into n contiguous, roughly-equal slices, the same
// partitioning Rust's chunks(thread_count) produces.
func chunks(files []manifest.PatchFile, n int) [][]manifest.PatchFile {
	if n <= 0 {
		n = 1
	}
	if n > len(files) {
		n = len(files)
	}
	if n == 0 {
		return nil
	}
	size := (len(files) + n - 1) / n
	var out [][]manifest.PatchFile
	for i := 0; i < len(files); i += size {
		end := i + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[i:end])
	}
	return out
}

// downloadFile fetches url into path, skipping entirely if path already
// exists (idempotent across crash/restart) and retrying transport errors
// with a fixed backoff, matching the original's retry loop. maxRetries <= 0
// retries indefinitely, matching the reference client's own behavior; a
// positive value bounds the attempt count, a knob the reference doesn't
// expose.
func downloadFile(ctx context.Context, client *http.Client, backoff time.Duration, maxRetries int, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("patcher: create dir for %s: %w", path, xerrors.FilesystemError)
	}

	for attempt := 1; ; attempt++ {
		resp, err := fetch(ctx, client, url)
		if err != nil {
			if maxRetries > 0 && attempt >= maxRetries {
				return fmt.Errorf("patcher: %s: %w", url, err)
			}
			log.Printf("[Patcher] %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		err = writeResponse(resp, path)
		if err != nil {
			return err
		}
		return nil
	}
}

func fetch(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("patcher: build request for %s: %w", url, xerrors.TransportError)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("patcher: GET %s: %w", url, xerrors.TransportError)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("patcher: GET %s: status %d: %w", url, resp.StatusCode, xerrors.TransportError)
	}
	return resp, nil
}

func writeResponse(resp *http.Response, path string) error {
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("patcher: create %s: %w", path, xerrors.FilesystemError)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("patcher: write %s: %w", path, xerrors.FilesystemError)
	}
	return nil
}

// FetchOne downloads a single URL to path with the same idempotent-skip
// and indefinite-retry behavior Download gives each manifest entry. Used
// to bootstrap the manifest file itself, which arrives as a standalone
// URL rather than a PatchFile record.
func FetchOne(ctx context.Context, client *http.Client, backoff time.Duration, url, path string) error {
	if client == nil {
		client = http.DefaultClient
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return downloadFile(ctx, client, backoff, 0, url, path)
}

// Download fetches every record in files according to cfg's filter and
// concurrency settings, completing once every worker has drained its
// chunk. Workers share no mutable state beyond the filesystem: each one's
// chunk is disjoint, so there are no write collisions.
//
// A worker that hits an error (FilesystemError from a bad GameDir, or a
// download that exhausted MaxRetries) stops processing the rest of its own
// chunk, but every other worker keeps going: deliberately a plain
// errgroup.Group here, not errgroup.WithContext, since WithContext cancels
// a shared context the instant any one g.Go func returns an error, which
// would abort every other worker's in-flight request too. Each worker's
// downloadFile calls are rooted directly in the ctx Download was given, so
// one worker's failure is invisible to the rest.
func Download(ctx context.Context, cfg Config, files []manifest.PatchFile) error {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var g errgroup.Group
	for _, chunk := range chunks(files, cfg.Workers) {
		chunk := chunk
		g.Go(func() error {
			for _, file := range chunk {
				dest := file.SrcName
				if cfg.OnlyEssential {
					if !essential(file.SrcName) {
						continue
					}
					dest = writePath(file.SrcName)
				}

				url := fmt.Sprintf("%s/%s", cfg.BaseURL, file.SrcName)
				path := filepath.Join(cfg.GameDir, dest)
				if err := downloadFile(ctx, client, backoff, cfg.MaxRetries, url, path); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
