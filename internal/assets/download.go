// Package assets fetches model files from a Hugging Face compatible hub and
// verifies them against pinned or recorded checksums.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultEndpoint is the public Hugging Face hub.
const DefaultEndpoint = "https://huggingface.co"

// LockFile is written to the asset root after every successful run.
const LockFile = "assets.lock.json"

type Options struct {
	Root     string
	Endpoint string
	Token    string
	Client   *http.Client
	// Progress receives one line per file event. Nil discards.
	Progress io.Writer
	Log      *slog.Logger
}

// AccessDeniedError is returned when the hub rejects the credentials.
type AccessDeniedError struct {
	Repo string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %s; set HF_TOKEN or --hf-token", e.Repo)
}

// ChecksumError reports a downloaded file whose digest does not match.
type ChecksumError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s got %s", e.File, e.Expected, e.Actual)
}

type lock struct {
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Fetcher downloads manifest files into a root directory.
type Fetcher struct {
	opts Options
	log  *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}

	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	if opts.Progress == nil {
		opts.Progress = io.Discard
	}

	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Fetcher{opts: opts, log: opts.Log.With(slog.String("component", "assets"))}
}

// Fetch downloads every file in m that is missing or fails its checksum,
// then rewrites the lock file.
func (f *Fetcher) Fetch(ctx context.Context, m Manifest) error {
	if f.opts.Root == "" {
		return errors.New("asset root is required")
	}

	if err := os.MkdirAll(f.opts.Root, 0o755); err != nil {
		return fmt.Errorf("create asset root: %w", err)
	}

	lockPath := filepath.Join(f.opts.Root, LockFile)
	lk := readLock(lockPath)

	for _, file := range m.Files {
		expected, err := f.expectedDigest(ctx, file, lk)
		if err != nil {
			return err
		}

		local := filepath.Join(f.opts.Root, filepath.FromSlash(file.target()))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return fmt.Errorf("create asset dir: %w", err)
		}

		ok, err := existingMatches(local, expected)
		if err != nil {
			return err
		}

		if ok {
			_, _ = fmt.Fprintf(f.opts.Progress, "skip %s (checksum match)\n", file.target())
			lk.Files[file.key()] = lockRecord{Revision: file.Revision, SHA256: expected}

			continue
		}

		_, _ = fmt.Fprintf(f.opts.Progress, "download %s@%s -> %s\n", file.key(), file.Revision, local)

		start := time.Now()

		actual, size, err := f.download(ctx, file, local)
		if err != nil {
			return err
		}

		if actual != expected {
			_ = os.Remove(local)
			return &ChecksumError{File: file.key(), Expected: expected, Actual: actual}
		}

		f.log.Info("asset verified",
			slog.String("file", file.key()),
			slog.Int64("bytes", size),
			slog.Duration("elapsed", time.Since(start)),
		)
		_, _ = fmt.Fprintf(f.opts.Progress, "verified %s (%s)\n", file.target(), humanize.Bytes(uint64(size)))

		lk.Files[file.key()] = lockRecord{Revision: file.Revision, SHA256: expected}
	}

	lk.Generated = time.Now().UTC().Format(time.RFC3339)

	return writeLock(lockPath, lk)
}

func (f *Fetcher) expectedDigest(ctx context.Context, file File, lk lock) (string, error) {
	if file.SHA256 != "" {
		return strings.ToLower(file.SHA256), nil
	}

	if rec, ok := lk.Files[file.key()]; ok && rec.Revision == file.Revision && isSHA256Hex(rec.SHA256) {
		return strings.ToLower(rec.SHA256), nil
	}

	return f.resolveDigest(ctx, file)
}

func (f *Fetcher) resolveURL(file File) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(f.opts.Endpoint, "/"), file.Repo, file.Revision, file.Filename)
}

func (f *Fetcher) request(ctx context.Context, method string, file File) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.resolveURL(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if f.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.opts.Token)
	}

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, file.key(), err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &AccessDeniedError{Repo: file.Repo}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", method, file.key(), resp.Status)
	}

	return resp, nil
}

// resolveDigest reads the LFS digest the hub exposes as an ETag.
func (f *Fetcher) resolveDigest(ctx context.Context, file File) (string, error) {
	resp, err := f.request(ctx, http.MethodHead, file)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	for _, key := range []string{"X-Linked-Etag", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("no sha256 metadata for %s; pin sha256 in the manifest", file.key())
}

func (f *Fetcher) download(ctx context.Context, file File, local string) (string, int64, error) {
	resp, err := f.request(ctx, http.MethodGet, file)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	tmp := local + ".tmp"

	fh, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()

	n, err := io.Copy(io.MultiWriter(fh, h), resp.Body)
	if cerr := fh.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("download %s: %w", file.key(), err)
	}

	if err := os.Rename(tmp, local); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("move %s into place: %w", file.target(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func existingMatches(p, expected string) (bool, error) {
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", p)
	}

	actual, err := fileSHA256(p)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")

	return strings.Trim(v, "\"")
}

func isSHA256Hex(v string) bool { return shaHexPattern.MatchString(v) }

func fileSHA256(p string) (string, error) {
	fh, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// readLock treats a missing or corrupt lock file as empty.
func readLock(p string) lock {
	out := lock{}

	if b, err := os.ReadFile(p); err == nil {
		_ = json.Unmarshal(b, &out)
	}

	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}

	return out
}

func writeLock(p string, lk lock) error {
	b, err := json.MarshalIndent(lk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}

	if err := os.WriteFile(p, b, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}

	return nil
}
