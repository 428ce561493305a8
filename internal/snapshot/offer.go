package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"praxis/internal/blob"
	"praxis/internal/entitymodel"
)

// ContentType labels exported backups.
const ContentType = "application/vnd.sqlite3"

// Offerer makes a backup available to the user and returns its location.
type Offerer interface {
	Offer(ctx context.Context, b Backup) (string, error)
}

// OffererFunc adapts a function to Offerer.
type OffererFunc func(ctx context.Context, b Backup) (string, error)

// Offer calls f.
func (f OffererFunc) Offer(ctx context.Context, b Backup) (string, error) { return f(ctx, b) }

// DirOfferer writes backups into Dir.
type DirOfferer struct {
	Dir string
}

// Offer writes b to Dir/b.Name and returns the file path.
func (d DirOfferer) Offer(_ context.Context, b Backup) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, b.Name)
	if err := os.WriteFile(path, b.Data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// BlobOfferer stores backups in a blob store under Prefix. When the driver
// can presign, the returned location is a download URL valid for Expiry;
// otherwise it is the blob key.
type BlobOfferer struct {
	Store  blob.Store
	Prefix string
	Expiry time.Duration
}

// Offer stores b and returns its download location.
func (o BlobOfferer) Offer(ctx context.Context, b Backup) (string, error) {
	if o.Store == nil {
		return "", errors.New("blob offerer: no store")
	}
	prefix := o.Prefix
	if prefix == "" {
		prefix = "backups/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	key := prefix + b.Name
	if _, err := o.Store.Put(ctx, key, b.Data, blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"schema_version": entitymodel.Version()},
	}); err != nil {
		return "", err
	}
	url, err := o.Store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: o.Expiry})
	if errors.Is(err, blob.ErrUnsupported) {
		return key, nil
	}
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}
