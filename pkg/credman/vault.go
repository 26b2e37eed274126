// Package credman keeps cookie jars encrypted at rest. The jar is written
// in the cookie file format and sealed with a key held by a keyring.KeyStore.
package credman

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/credman/encryption"
	"github.com/warpdl/warphttp/pkg/credman/keyring"
	"github.com/warpdl/warphttp/pkg/logger"
	"github.com/warpdl/warphttp/pkg/warperr"
)

// DEF_VAULT_FILE is the vault file name inside the config directory.
const DEF_VAULT_FILE = "cookies.vault"

// Vault is an encrypted cookie jar file.
type Vault struct {
	fs   afero.Fs
	path string
	key  []byte
	log  logger.Logger
}

// NewVault creates a vault at path on fs sealed with key.
func NewVault(fs afero.Fs, path string, key []byte, l logger.Logger) (*Vault, error) {
	if len(key) != keyring.KeySize {
		return nil, warperr.NewConfigurationError("vault key", fmt.Sprintf("want %d bytes, got %d", keyring.KeySize, len(key)))
	}
	if path == "" {
		return nil, warperr.NewConfigurationError("vault path", "must not be empty")
	}
	return &Vault{fs: fs, path: path, key: append([]byte(nil), key...), log: logger.OrNop(l)}, nil
}

// OpenDefault opens the vault in configDir, loading or creating its key in
// the system keyring or, failing that, in a key file next to the vault.
func OpenDefault(fs afero.Fs, configDir string, l logger.Logger) (*Vault, error) {
	key, _, err := keyring.LoadOrCreate(l, keyring.NewKeyring(), keyring.NewFileKeyStore(fs, configDir))
	if err != nil {
		return nil, err
	}
	return NewVault(fs, filepath.Join(configDir, DEF_VAULT_FILE), key, l)
}

// Path returns the vault file path.
func (v *Vault) Path() string { return v.path }

// Save seals j and replaces the vault file atomically.
func (v *Vault) Save(j *cookiejar.Jar) error {
	var buf bytes.Buffer
	if err := j.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize jar: %w", err)
	}
	sealed, err := encryption.Seal(buf.Bytes(), v.key)
	if err != nil {
		return fmt.Errorf("seal jar: %w", err)
	}

	dir := filepath.Dir(v.path)
	if err := v.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp, err := afero.TempFile(v.fs, dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		v.fs.Remove(tmpName)
		return fmt.Errorf("write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		v.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := v.fs.Chmod(tmpName, 0o600); err != nil {
		v.fs.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := v.fs.Rename(tmpName, v.path); err != nil {
		v.fs.Remove(tmpName)
		return fmt.Errorf("rename vault: %w", err)
	}
	v.log.Debug("vault: saved %d cookies to %s", j.Len(), v.path)
	return nil
}

// Load merges the vault into j. A missing vault leaves j unchanged.
func (v *Vault) Load(j *cookiejar.Jar) error {
	sealed, err := afero.ReadFile(v.fs, v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	plain, err := encryption.Open(sealed, v.key)
	if err != nil {
		return fmt.Errorf("open vault %s: %w", v.path, err)
	}
	return j.Deserialize(bytes.NewReader(plain))
}

// Jar returns a new jar holding the vault's cookies.
func (v *Vault) Jar(opts ...cookiejar.Option) (*cookiejar.Jar, error) {
	j := cookiejar.New(append([]cookiejar.Option{cookiejar.WithLogger(v.log)}, opts...)...)
	if err := v.Load(j); err != nil {
		return nil, err
	}
	return j, nil
}

// Remove deletes the vault file.
func (v *Vault) Remove() error {
	err := v.fs.Remove(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
