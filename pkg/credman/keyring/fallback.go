// Package keyring provides vault key storage using the operating system's
// native keyring service with fallback to a key file.
package keyring

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/warpdl/warphttp/pkg/logger"
)

const (
	keyFileName = "vault.key"
	keyFileMode = 0600
)

// FileKeyStore keeps the key hex-encoded in a 0600 file. It is the
// fallback when the system keyring is unavailable.
type FileKeyStore struct {
	fs        afero.Fs
	configDir string
}

var fileRandRead = randRead

// NewFileKeyStore creates a store keeping its key under configDir on fs.
func NewFileKeyStore(fs afero.Fs, configDir string) *FileKeyStore {
	return &FileKeyStore{fs: fs, configDir: configDir}
}

func (f *FileKeyStore) keyPath() string {
	return filepath.Join(f.configDir, keyFileName)
}

// SetKey generates a new key and writes it atomically through a temporary
// file in the same directory.
func (f *FileKeyStore) SetKey() ([]byte, error) {
	if err := f.fs.MkdirAll(f.configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	key := make([]byte, KeySize)
	if _, err := fileRandRead(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	tmp, err := afero.TempFile(f.fs, f.configDir, ".vault.key.tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Chmod(tmpPath, keyFileMode); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("set permissions: %w", err)
	}
	if err := f.fs.Rename(tmpPath, f.keyPath()); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("rename key file: %w", err)
	}
	return key, nil
}

// GetKey reads the key file. A missing file yields ErrKeyNotFound.
func (f *FileKeyStore) GetKey() ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.keyPath())
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeKey(strings.TrimSpace(string(data)))
}

// DeleteKey removes the key file.
func (f *FileKeyStore) DeleteKey() error {
	err := f.fs.Remove(f.keyPath())
	if os.IsNotExist(err) {
		return ErrKeyNotFound
	}
	return err
}

func (f *FileKeyStore) String() string { return "file:" + f.keyPath() }

// LoadOrCreate returns the first key found in stores. When none holds one,
// a new key is created in the first store that accepts it. Store failures
// other than ErrKeyNotFound are logged and the next store is tried.
func LoadOrCreate(l logger.Logger, stores ...KeyStore) ([]byte, KeyStore, error) {
	l = logger.OrNop(l)
	for _, s := range stores {
		key, err := s.GetKey()
		if err == nil {
			return key, s, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			l.Warning("vault key: %v unavailable: %v", s, err)
		}
	}
	var result *multierror.Error
	for _, s := range stores {
		key, err := s.SetKey()
		if err == nil {
			l.Info("vault key: created new key in %v", s)
			return key, s, nil
		}
		l.Warning("vault key: cannot store in %v: %v", s, err)
		result = multierror.Append(result, err)
	}
	if result == nil {
		return nil, nil, errors.New("vault key: no key store configured")
	}
	return nil, nil, fmt.Errorf("vault key: no usable store: %w", result)
}
