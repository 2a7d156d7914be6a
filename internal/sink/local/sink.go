// Package local implements a Sink that writes one JSON file per article.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
)

// Config captures the parameters for the filesystem sink.
type Config struct {
	// BaseDir is the root directory; articles land in <base>/<source>/<key>.json.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink stores articles on the local filesystem.
type Sink struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Sink{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Persist implements harvest.Sink. The final file is created with a hard
// link, which fails if the name exists, so concurrent writers of the same URL
// get exactly one ack.
func (s *Sink) Persist(_ context.Context, article harvest.Article) (harvest.PersistStatus, error) {
	path, err := s.pathFor(article)
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "local persist", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("create source directory: %w", err))
	}
	data, err := json.MarshalIndent(article, "", "  ")
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("marshal article: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".article-*")
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return harvest.PersistDuplicate, nil
		}
		return "", harvest.NewError(harvest.KindPersist, "local persist", fmt.Errorf("publish file: %w", err))
	}
	return harvest.PersistAck, nil
}

func (s *Sink) pathFor(article harvest.Article) (string, error) {
	if strings.TrimSpace(article.URL) == "" {
		return "", fmt.Errorf("article url is required")
	}
	source := article.Source
	if source == "" {
		source = "_unsorted"
	}
	key, err := harvest.NormalizeURL(article.URL)
	if err != nil {
		key = article.URL
	}
	full := filepath.Join(s.baseDir, source, sha256.Sum([]byte(key))+".json")
	if !strings.HasPrefix(filepath.Clean(full), s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
