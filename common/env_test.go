package common

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)
	got, err := ConfigDir()
	if err != nil || got != dir {
		t.Fatalf("ConfigDir() = %q, %v", got, err)
	}

	t.Setenv(ConfigDirEnv, "")
	orig := userConfigDir
	defer func() { userConfigDir = orig }()
	userConfigDir = func() (string, error) { return "/home/u/.config", nil }
	if got, _ := ConfigDir(); got != filepath.Join("/home/u/.config", "warphttp") {
		t.Errorf("ConfigDir() = %q", got)
	}
	userConfigDir = func() (string, error) { return "", errors.New("no home") }
	if _, err := ConfigDir(); err == nil {
		t.Error("expected error without a home directory")
	}
}

func TestDebug(t *testing.T) {
	t.Setenv(DebugEnv, "1")
	if !Debug() {
		t.Error("Debug() = false for 1")
	}
	t.Setenv(DebugEnv, "nope")
	if Debug() {
		t.Error("Debug() = true for garbage")
	}
}

func TestCookieKey(t *testing.T) {
	t.Setenv(CookieKeyEnv, "")
	if _, ok, err := CookieKey(); ok || err != nil {
		t.Fatalf("unset: ok=%v err=%v", ok, err)
	}
	t.Setenv(CookieKeyEnv, "00ff")
	key, ok, err := CookieKey()
	if !ok || err != nil || len(key) != 2 || key[1] != 0xff {
		t.Fatalf("CookieKey() = %x, %v, %v", key, ok, err)
	}
	t.Setenv(CookieKeyEnv, "zz")
	if _, ok, err := CookieKey(); !ok || err == nil {
		t.Fatalf("bad hex: ok=%v err=%v", ok, err)
	}
}
