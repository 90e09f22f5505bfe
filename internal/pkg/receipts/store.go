// Package receipts stores bank transfer receipts uploaded by customers.
package receipts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// Stored describes a persisted receipt.
type Stored struct {
	Location    string
	ContentType string
	Size        int64
}

type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (Stored, error)
	Delete(ctx context.Context, location string) error
}

// ObjectKey returns receipts/YYYY/MM/<reference><ext>.
func ObjectKey(now time.Time, referenceCode, ext string) string {
	now = now.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%s%s", now.Year(), int(now.Month()), referenceCode, ext)
}

// Put sniffs data and saves it under a key derived from the deposit reference.
func Put(ctx context.Context, s Store, now time.Time, referenceCode string, data []byte) (Stored, error) {
	contentType, ext, err := Sniff(data)
	if err != nil {
		return Stored{}, err
	}
	return s.Save(ctx, ObjectKey(now, referenceCode, ext), data, contentType)
}

// LocalStore writes receipts below Root. Used in development and when S3 is off.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) Save(_ context.Context, key string, data []byte, contentType string) (Stored, error) {
	path, err := s.path(key)
	if err != nil {
		return Stored{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stored{}, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return Stored{}, fmt.Errorf("failed to write receipt: %w", err)
	}
	return Stored{Location: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *LocalStore) Delete(_ context.Context, location string) error {
	path, err := s.path(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path keeps keys inside Root.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid receipt key %q", key)
	}
	return filepath.Join(s.Root, clean), nil
}

// NewStoreFromEnv picks S3 when RECEIPTS_S3_ENABLED=true, otherwise local disk.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	cfg, err := LoadS3Config()
	if err != nil {
		return nil, err
	}
	if cfg.Enabled {
		return NewS3Store(ctx, cfg)
	}
	root := env.GetEnv("RECEIPTS_LOCAL_DIR", "./uploads")
	log.Infof("[Receipts] Storing receipts on local disk at %s", root)
	return NewLocalStore(root), nil
}
