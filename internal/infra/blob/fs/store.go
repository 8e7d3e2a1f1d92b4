// Package fs stores memory slots as files under a root directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memorypin/internal/blob/core"
)

// sidecarExt names the JSON file written next to each slot payload.
const sidecarExt = ".meta"

// DefaultRoot is used when no root directory is configured.
const DefaultRoot = "./memorypin-data"

// Store keeps one file per slot. The payload is replaced by renaming a fully
// written temp file over it, and a sidecar records the content type, the
// caller's metadata and a sha256 etag for Head.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create slot root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver returns the slot driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

// slotPath maps key onto a file under root. Keys must be relative, must not
// climb out of root and must not collide with a sidecar name.
func (s *Store) slotPath(key string) (string, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return "", errors.New("slot key is empty")
	case strings.HasPrefix(key, "/"), filepath.IsAbs(key):
		return "", fmt.Errorf("slot key %q is absolute", key)
	case strings.Contains(key, ".."):
		return "", fmt.Errorf("slot key %q leaves the root", key)
	case strings.HasSuffix(key, sidecarExt):
		return "", fmt.Errorf("slot key %q uses the reserved %s suffix", key, sidecarExt)
	}
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean(key))), nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

func (sc sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.ETag,
		Metadata:     core.CloneMetadata(sc.Metadata),
		LastModified: sc.WrittenAt,
	}
}

// Put replaces the slot at key with the contents of r. A failed read leaves
// the previous payload in place.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	path, err := s.slotPath(key)
	if err != nil {
		return core.Info{}, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.Info{}, err
	}
	sc, err := writeAtomic(dir, path, r)
	if err != nil {
		return core.Info{}, fmt.Errorf("write slot %s: %w", key, err)
	}
	sc.ContentType = opts.ContentType
	sc.Metadata = core.CloneMetadata(opts.Metadata)
	b, err := json.Marshal(sc)
	if err != nil {
		return core.Info{}, err
	}
	if err := os.WriteFile(path+sidecarExt, b, 0o644); err != nil {
		return core.Info{}, fmt.Errorf("write sidecar %s: %w", key, err)
	}
	return sc.info(key), nil
}

func writeAtomic(dir, path string, r io.Reader) (sidecar, error) {
	tmp, err := os.CreateTemp(dir, ".slot-*")
	if err != nil {
		return sidecar{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return sidecar{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return sidecar{}, err
	}
	return sidecar{ETag: hex.EncodeToString(sum.Sum(nil)), Size: n, WrittenAt: time.Now().UTC()}, nil
}

// Get opens the slot payload. A payload placed by hand without a sidecar is
// still readable; its info then comes from the file itself.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, nil, err
	}
	path, err := s.slotPath(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return core.Info{}, nil, err
	}
	info, err := s.describe(key, path, f)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	return info, f, nil
}

// Head reports the slot's info without opening the payload for the caller.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	path, err := s.slotPath(key)
	if err != nil {
		return core.Info{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = f.Close() }()
	return s.describe(key, path, f)
}

func (s *Store) describe(key, path string, f *os.File) (core.Info, error) {
	b, err := os.ReadFile(path + sidecarExt)
	if errors.Is(err, fs.ErrNotExist) {
		st, err := f.Stat()
		if err != nil {
			return core.Info{}, err
		}
		return core.Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}, nil
	}
	if err != nil {
		return core.Info{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return core.Info{}, fmt.Errorf("decode sidecar %s: %w", key, err)
	}
	return sc.info(key), nil
}

// Delete removes the slot and its sidecar, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	path, err := s.slotPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path + sidecarExt); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}
