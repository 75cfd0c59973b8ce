package checkpoint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"airose/pkg/state"
)

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// unsafe ids 以 "~" + base64 存檔，"~" 不在安全字元內所以不會撞名
const encodedPrefix = "~"

// FileStore writes one file per conversation under dir.
// Writes go through a temp file and a rename so a crash never leaves a
// half-written checkpoint behind.
type FileStore struct {
	dir   string
	codec *Codec
}

// NewFileStore creates dir if needed. A nil codec means DefaultCodec.
func NewFileStore(dir string, codec *Codec) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file checkpoint store needs a directory")
	}
	if codec == nil {
		codec = DefaultCodec()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, codec: codec}, nil
}

func (f *FileStore) path(id string) string {
	name := id
	if id == "" || filenameSafeRegex.MatchString(id) {
		name = encodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
	}
	return filepath.Join(f.dir, name+f.codec.Ext())
}

func (f *FileStore) idFromName(name string) (string, bool) {
	base, ok := strings.CutSuffix(name, f.codec.Ext())
	if !ok {
		return "", false
	}
	if enc, ok := strings.CutPrefix(base, encodedPrefix); ok {
		raw, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	return base, true
}

func (f *FileStore) Load(ctx context.Context, id string) (*state.State, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	st, err := f.codec.Decode(data)
	if err != nil {
		slog.ErrorContext(ctx, "Corrupt checkpoint", "conversation", id, "error", err)
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	return st, nil
}

func (f *FileStore) Save(_ context.Context, id string, st *state.State) error {
	data, err := f.codec.Encode(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), f.path(id)); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	err := os.Remove(f.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if id, ok := f.idFromName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
