// Package file stores records as one JSON document per file.
package file

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

const (
	ext     = ".json"
	stripes = 64
)

// RecordStore keeps <dir>/<kind>/<id>.json. Writes go to a temp file that is synced and
// renamed over the target, so readers never observe a partial document.
type RecordStore struct {
	dir   string
	log   zerolog.Logger
	locks [stripes]sync.Mutex
}

func NewRecordStore(dir string, log zerolog.Logger) *RecordStore {
	return &RecordStore{dir: dir, log: log.With().Str("component", "file_store").Logger()}
}

// Init creates the directory layout.
func (s *RecordStore) Init(context.Context) error {
	for _, kind := range record.Kinds {
		if err := os.MkdirAll(filepath.Join(s.dir, string(kind)), 0o750); err != nil {
			return fmt.Errorf("init record dir: %w", err)
		}
	}
	return nil
}

func (s *RecordStore) Put(_ context.Context, kind record.Kind, id string, data []byte) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	mu := s.lock(kind, id)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+id+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Debug().Err(err).Str("dir", dir).Msg("directory sync failed")
		}
		_ = d.Close()
	}
	return nil
}

func (s *RecordStore) Get(_ context.Context, kind record.Kind, id string) ([]byte, error) {
	path, err := s.path(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return data, err
}

func (s *RecordStore) Scan(ctx context.Context, kind record.Kind, fn func(id string, data []byte) error) error {
	dir := filepath.Join(s.dir, string(kind))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			// deleted after listing
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(strings.TrimSuffix(name, ext), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecordStore) Delete(_ context.Context, kind record.Kind, id string) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	mu := s.lock(kind, id)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *RecordStore) path(kind record.Kind, id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", domain.ContractError("record id %q is not usable as a file name", id)
	}
	return filepath.Join(s.dir, string(kind), id+ext), nil
}

func (s *RecordStore) lock(kind record.Kind, id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%stripes]
}
