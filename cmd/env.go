package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warphttp/common"
	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/credman"
	"github.com/warpdl/warphttp/pkg/logger"
	"github.com/warpdl/warphttp/pkg/suffix"
	"github.com/warpdl/warphttp/pkg/warphttp"
)

// Swapped by tests.
var (
	newFs            = afero.NewOsFs
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var globalFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging (or set " + common.DebugEnv + ")",
	},
	cli.StringFlag{
		Name:  "config-dir",
		Usage: "directory holding the cookie vault (or set " + common.ConfigDirEnv + ")",
	},
	cli.StringFlag{
		Name:   "proxy, x",
		Usage:  "http, https or socks5 proxy URL",
		EnvVar: common.ProxyEnv,
	},
	cli.BoolFlag{
		Name:  "insecure, k",
		Usage: "skip TLS certificate verification",
	},
	cli.DurationFlag{
		Name:  "timeout",
		Usage: "limit for a single hop",
		Value: DEF_TIMEOUT,
	},
	cli.StringFlag{
		Name:  "log-file",
		Usage: "also write the log, debug messages included, to this file",
	},
	cli.StringFlag{
		Name:  "psl",
		Usage: "public suffix list file or URL (the built-in list is used otherwise)",
	},
}

// appEnv is what every command needs to build exchanges.
type appEnv struct {
	fs        afero.Fs
	configDir string
	log       logger.Logger
	transport warphttp.Transport
	checker   suffix.Checker
	logFile   afero.File
}

func newAppEnv(ctx *cli.Context) (*appEnv, error) {
	a := &appEnv{fs: newFs(), checker: suffix.Builtin}
	console := logger.NewStandardLogger(log.New(stderr, "", log.LstdFlags)).
		EnableDebug(ctx.GlobalBool("debug") || common.Debug())
	a.log = console
	if name := ctx.GlobalString("log-file"); name != "" {
		f, err := a.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		a.log = logger.NewMultiLogger(console, logger.NewStandardLogger(log.New(f, "", log.LstdFlags)).EnableDebug(true))
	}

	a.configDir = ctx.GlobalString("config-dir")
	if a.configDir == "" {
		dir, err := common.ConfigDir()
		if err != nil {
			a.close()
			return nil, err
		}
		a.configDir = dir
	}

	cfg := warphttp.DefaultTransportConfig()
	cfg.Proxy = ctx.GlobalString("proxy")
	cfg.ProxyFromEnv = true
	cfg.InsecureSkipVerify = ctx.GlobalBool("insecure")
	cfg.Timeout = ctx.GlobalDuration("timeout")
	t, err := warphttp.NewHTTPTransport(cfg, a.log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.transport = t

	if src := ctx.GlobalString("psl"); src != "" {
		if err := suffix.Init(context.Background(), a.suffixSource(src)); err != nil {
			a.close()
			return nil, err
		}
		a.checker = suffix.Global
	}
	return a, nil
}

func (a *appEnv) close() {
	a.log.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func (a *appEnv) suffixSource(src string) suffix.Source {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return suffix.URLSource{URL: src}
	}
	return suffix.FileSource{Fs: a.fs, Path: src}
}

func (a *appEnv) newJar() *cookiejar.Jar {
	return cookiejar.New(cookiejar.WithLogger(a.log), cookiejar.WithSuffixChecker(a.checker))
}

// vault opens the cookie vault. WARPHTTP_COOKIE_KEY, when set, replaces
// the keyring.
func (a *appEnv) vault() (*credman.Vault, error) {
	key, ok, err := common.CookieKey()
	if err != nil {
		return nil, err
	}
	if ok {
		return credman.NewVault(a.fs, filepath.Join(a.configDir, credman.DEF_VAULT_FILE), key, a.log)
	}
	return credman.OpenDefault(a.fs, a.configDir, a.log)
}

func (a *appEnv) vaultJar() (*credman.Vault, *cookiejar.Jar, error) {
	v, err := a.vault()
	if err != nil {
		return nil, nil, err
	}
	j, err := v.Jar(cookiejar.WithSuffixChecker(a.checker))
	if err != nil {
		return nil, nil, err
	}
	return v, j, nil
}
