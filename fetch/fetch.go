// Package fetch provisions the transcription engine's on-disk dependencies:
// the whisper binary archive and the model weights. Every artifact is pinned
// to a SHA-256 hash baked into the program; nothing unverified is ever
// installed, and a failed attempt leaves no partial files behind.
package fetch

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// WhisperVersion is the pinned whisper.cpp release.
const WhisperVersion = "v1.5.4"

// ModelURL points at the base English model weights.
const ModelURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin"

// Trusted SHA-256 hashes, verified once on first use.
const (
	WhisperZipHash = "9cb13bbe167e0947afedd7ff9766575c4324b3cd01b4267be2ba9648dc7e8cc9"
	ModelHash      = "a03779c86df3323075f5e796cb2ce5029f00ec8869eee3fdfb897afe36c6d002"
)

// ErrHashMismatch reports that a downloaded artifact failed verification.
var ErrHashMismatch = errors.New("artifact hash mismatch")

// Asset describes one provisioned artifact. Path is where the artifact (or,
// for archives, the downloaded archive file) lives. Present() keys off
// InstalledPath, which for archives is the file whose existence proves the
// archive was extracted.
type Asset struct {
	Name   string
	URL    string
	Path   string
	SHA256 string

	Archive    bool
	ExtractDir string
	// InstalledPath is checked for existence; defaults to Path.
	InstalledPath string
}

// ProgressFunc receives fractional download progress, 0-100, for one asset.
// It is only called when the server reports a total size.
type ProgressFunc func(name string, pct float64)

func (a Asset) installedPath() string {
	if a.InstalledPath != "" {
		return a.InstalledPath
	}
	return a.Path
}

// Present reports whether the asset is already provisioned.
func (a Asset) Present() bool {
	_, err := os.Stat(a.installedPath())
	return err == nil
}

// Ensure downloads, verifies, and installs every missing asset. It is
// idempotent: assets already present are skipped.
func Ensure(
	ctx context.Context,
	assets []Asset,
	onProgress ProgressFunc,
	logger *log.Logger,
) error {
	for _, asset := range assets {
		if asset.Present() {
			logger.Debug("asset present", "name", asset.Name)
			continue
		}
		if err := provision(ctx, asset, onProgress, logger); err != nil {
			return fmt.Errorf("provision %s: %w", asset.Name, err)
		}
	}
	return nil
}

func provision(
	ctx context.Context,
	asset Asset,
	onProgress ProgressFunc,
	logger *log.Logger,
) error {
	if err := os.MkdirAll(filepath.Dir(asset.Path), 0o755); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	tmpPath := asset.Path + ".download"
	logger.Info("downloading", "name", asset.Name, "url", asset.URL)

	if err := download(ctx, asset.URL, tmpPath, asset.Name, onProgress); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := verifyFile(tmpPath, asset.SHA256); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if asset.Archive {
		if err := extractZip(tmpPath, asset.ExtractDir); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("extract archive: %w", err)
		}
		os.Remove(tmpPath)
		logger.Info("extracted", "name", asset.Name, "dir", asset.ExtractDir)
		return nil
	}

	if err := os.Rename(tmpPath, asset.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install artifact: %w", err)
	}
	logger.Info("installed", "name", asset.Name, "path", asset.Path)
	return nil
}

func download(
	ctx context.Context,
	url, dest, name string,
	onProgress ProgressFunc,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write temp file: %w", err)
			}
			downloaded += int64(n)
			if total > 0 && onProgress != nil {
				onProgress(name, float64(downloaded)/float64(total)*100)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read download stream: %w", readErr)
		}
	}
}

// verifyFile streams the file through SHA-256 and compares against the
// expected hex digest, case-insensitively.
func verifyFile(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for verification: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected, got)
	}
	return nil
}

func extractZip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extract directory: %w", err)
	}

	for _, file := range reader.File {
		path := filepath.Join(destDir, file.Name)
		// Reject entries escaping the extraction root.
		if !strings.HasPrefix(path, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
