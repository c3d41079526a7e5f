package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
)

// FileCachePathKey is a context.Context value key; its value is a string
// giving the cache directory.
type FileCachePathKey struct{}

// NewFileCache returns a Cache persisting entries under the directory found
// in ctx via FileCachePathKey, or nil if that key isn't set.
func NewFileCache(ctx context.Context) Cache {
	if v := ctx.Value(FileCachePathKey{}); v != nil {
		return newFileCache(v.(string))
	}
	return nil
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache persists serialized roots into dirPath, one file per Key.
type fileCache struct {
	dirPath string
	dirOk   bool
	mux     sync.RWMutex
}

type fileReadCloser struct {
	*os.File
	fc *fileCache
}

func (fc *fileCache) path(key Key) string {
	return path.Join(fc.dirPath, hex.EncodeToString(key[:]))
}

func (fc *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	fc.mux.RLock()
	unlock := fc.mux.RUnlock
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	f, err := os.Open(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	unlock = nil // released by fileReadCloser.Close instead
	return &fileReadCloser{File: f, fc: fc}, true, nil
}

func (f *fileReadCloser) Close() (err error) {
	defer f.fc.mux.RUnlock()
	return f.File.Close()
}

func (fc *fileCache) Add(key Key, content io.Reader) (err error) {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	if err = fc.requireDir(); err != nil {
		return err
	}

	file, err := os.Create(fc.path(key))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, content)
	return err
}

func (fc *fileCache) Delete(key Key) (err error) {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	err = os.Remove(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}

func (fc *fileCache) requireDir() error {
	if fc.dirOk {
		return nil
	}
	if s, err := os.Stat(fc.dirPath); errors.Is(err, os.ErrNotExist) {
		if err = os.Mkdir(fc.dirPath, 0o700); err != nil {
			return fmt.Errorf("cache: couldn't create dir %s: %w", fc.dirPath, err)
		}
	} else if err != nil {
		return fmt.Errorf("cache: couldn't open dir %s: %w", fc.dirPath, err)
	} else if !s.IsDir() {
		return fmt.Errorf("cache: expected dir at %s", fc.dirPath)
	}
	fc.dirOk = true
	return nil
}
