// Package common holds process level settings shared by the warphttp
// command and its subcommands.
package common

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Environment variable names for configuration.
const (
	// ConfigDirEnv overrides the configuration directory.
	ConfigDirEnv = "WARPHTTP_CONFIG_DIR"

	// DebugEnv enables debug logging.
	DebugEnv = "WARPHTTP_DEBUG"

	// CookieKeyEnv supplies the vault key as 64 hex digits, bypassing the keyring.
	CookieKeyEnv = "WARPHTTP_COOKIE_KEY"

	// ProxyEnv sets the default proxy URL.
	ProxyEnv = "WARPHTTP_PROXY"
)

const configDirName = "warphttp"

var userConfigDir = os.UserConfigDir

// ConfigDir returns the configuration directory: $WARPHTTP_CONFIG_DIR when
// set, otherwise warphttp under the user configuration directory. It does
// not create the directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, configDirName), nil
}

// Debug reports whether WARPHTTP_DEBUG holds a true value.
func Debug() bool {
	on, _ := strconv.ParseBool(os.Getenv(DebugEnv))
	return on
}

// CookieKey returns the vault key from WARPHTTP_COOKIE_KEY. ok is false
// when the variable is unset.
func CookieKey() (key []byte, ok bool, err error) {
	v := os.Getenv(CookieKeyEnv)
	if v == "" {
		return nil, false, nil
	}
	key, err = hex.DecodeString(v)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", CookieKeyEnv, err)
	}
	return key, true, nil
}

// Proxy returns WARPHTTP_PROXY.
func Proxy() string {
	return os.Getenv(ProxyEnv)
}
