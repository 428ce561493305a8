// Package fs implements a blob Store on the local filesystem.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"praxis/internal/blob/core"
)

const (
	defaultRoot = "./praxis-data"
	metaSuffix  = ".meta"
)

// Store keeps each blob as a file under root with a JSON sidecar
// (<file>.meta) holding content type, metadata and ETag. Both files are
// replaced through a temp file and rename so a crash never leaves a torn
// snapshot behind.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs blob root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type location struct {
	key  string
	data string
	meta string
}

// locate maps key to its files. Keys are relative slash paths; traversal,
// absolute paths and the sidecar suffix are rejected.
func (s *Store) locate(key string) (location, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return location{}, errors.New("empty key")
	case strings.Contains(key, ".."):
		return location{}, fmt.Errorf("invalid key %q: contains '..'", key)
	case strings.HasPrefix(key, "/"):
		return location{}, fmt.Errorf("invalid key %q: absolute", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasSuffix(clean, metaSuffix) {
		return location{}, fmt.Errorf("invalid key %q: reserved suffix %s", key, metaSuffix)
	}
	data := filepath.Join(s.root, filepath.FromSlash(clean))
	return location{key: clean, data: data, meta: data + metaSuffix}, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (s *Store) Put(_ context.Context, key string, data []byte, opts core.PutOptions) (core.Info, error) {
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(loc.data), 0o755); err != nil {
		return core.Info{}, err
	}
	if err := replaceFile(loc.data, data); err != nil {
		return core.Info{}, fmt.Errorf("write %s: %w", key, err)
	}
	sum := sha256.Sum256(data)
	sc := sidecar{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		UpdatedAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return core.Info{}, err
	}
	if err := replaceFile(loc.meta, raw); err != nil {
		return core.Info{}, fmt.Errorf("write %s sidecar: %w", key, err)
	}
	return s.info(key, sc), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, core.Info, error) {
	loc, err := s.locate(key)
	if err != nil {
		return nil, core.Info{}, err
	}
	data, err := os.ReadFile(loc.data)
	if err != nil {
		return nil, core.Info{}, notFound(key, err)
	}
	sc, err := s.describe(loc, int64(len(data)), time.Time{})
	if err != nil {
		return nil, core.Info{}, err
	}
	return data, s.info(key, sc), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(loc.data)
	if err != nil {
		return core.Info{}, notFound(key, err)
	}
	sc, err := s.describe(loc, st.Size(), st.ModTime().UTC())
	if err != nil {
		return core.Info{}, err
	}
	return s.info(key, sc), nil
}

// describe reads the sidecar, falling back to size and mtime for files
// copied into the root by hand.
func (s *Store) describe(loc location, size int64, modified time.Time) (sidecar, error) {
	sc, err := readSidecar(loc.meta)
	if errors.Is(err, fs.ErrNotExist) {
		return sidecar{Size: size, UpdatedAt: modified}, nil
	}
	return sc, err
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	loc, err := s.locate(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(loc.data)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = os.Remove(loc.meta)
	return true, nil
}

// List reports blobs that have a sidecar, sorted by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		sc, err := readSidecar(path)
		if err != nil {
			return err
		}
		out = append(out, s.info(key, sc))
		return nil
	}
	if err := filepath.WalkDir(s.root, walk); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear empties the root directory but keeps it.
func (s *Store) Clear(_ context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(s.root, e.Name())))
	}
	return errors.Join(errs...)
}

// PresignURL returns a stable local URL for GET; no server is behind it.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	if _, err := s.locate(key); err != nil {
		return "", err
	}
	return localURL(key), nil
}

func localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}).String()
}

func (s *Store) info(key string, sc sidecar) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.ETag,
		Metadata:     core.CloneMetadata(sc.Metadata),
		LastModified: sc.UpdatedAt,
		URL:          localURL(key),
	}
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

func replaceFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return sc, nil
}
