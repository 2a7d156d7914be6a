// Package gcs provides a Sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	Prefix string
}

type objectWriter interface {
	io.Writer
	Close() error
}

type openFunc func(ctx context.Context, bucket, object string) objectWriter

// Sink writes each article as a JSON object. Objects are created with a
// does-not-exist precondition, so the bucket itself arbitrates duplicates.
type Sink struct {
	bucket string
	prefix string
	open   openFunc
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newSink(cfg, func(ctx context.Context, bucket, object string) objectWriter {
		w := client.Bucket(bucket).Object(object).
			If(storage.Conditions{DoesNotExist: true}).
			NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	})
}

func newSink(cfg Config, open openFunc) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/"), open: open}, nil
}

// ObjectName returns the object path used for article.
func (s *Sink) ObjectName(article harvest.Article) string {
	key, err := harvest.NormalizeURL(article.URL)
	if err != nil {
		key = article.URL
	}
	source := article.Source
	if source == "" {
		source = "_unsorted"
	}
	return path.Join(s.prefix, source, sha256.Sum([]byte(key))+".json")
}

// Persist implements harvest.Sink.
func (s *Sink) Persist(ctx context.Context, article harvest.Article) (harvest.PersistStatus, error) {
	if strings.TrimSpace(article.URL) == "" {
		return "", harvest.NewError(harvest.KindPersist, "gcs persist", fmt.Errorf("article url is required"))
	}
	data, err := json.Marshal(article)
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "gcs persist", fmt.Errorf("marshal article: %w", err))
	}
	writer := s.open(ctx, s.bucket, s.ObjectName(article))
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if isPreconditionFailed(closeErr) {
			return harvest.PersistDuplicate, nil
		}
		return "", harvest.NewError(harvest.KindPersist, "gcs persist", fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return harvest.PersistDuplicate, nil
		}
		return "", harvest.NewError(harvest.KindPersist, "gcs persist", fmt.Errorf("close writer: %w", err))
	}
	return harvest.PersistAck, nil
}

// URI returns the gs:// location of article.
func (s *Sink) URI(article harvest.Article) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.ObjectName(article))
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
