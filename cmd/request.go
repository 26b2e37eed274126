package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/warphttp"
)

// requestFlags are shared by get and multi.
var requestFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "request, X",
		Usage: "request method",
	},
	cli.StringFlag{
		Name:  "data, d",
		Usage: "request body, or @file to read it from a file (implies POST)",
	},
	cli.StringSliceFlag{
		Name:  "header, H",
		Usage: `extra header "Name: value" ("Name:" suppresses it)`,
	},
	cli.StringFlag{
		Name:  "referer, e",
		Usage: "Referer sent with the first hop",
	},
	cli.BoolTFlag{
		Name:  "location, L",
		Usage: "follow redirects (--location=false to disable)",
	},
	cli.IntFlag{
		Name:  "max-redirs",
		Usage: "maximum redirects, negative for unlimited",
	},
	cli.StringFlag{
		Name:  "preserve-method",
		Usage: "comma separated redirect statuses on which POST is kept",
	},
	cli.BoolFlag{
		Name:  "rfc-resolve",
		Usage: "resolve relative redirect targets as RFC 3986 references",
	},
	cli.StringFlag{
		Name:  "cookie, b",
		Usage: "read cookies from this cookie file",
	},
	cli.StringFlag{
		Name:  "cookie-jar, c",
		Usage: "write cookies to this cookie file when done",
	},
	cli.BoolFlag{
		Name:  "vault",
		Usage: "send and store cookies through the encrypted cookie vault",
	},
	cli.StringSliceFlag{
		Name:  "opt",
		Usage: "set an exchange option as key=value, one of: " + strings.Join(warphttp.OptionKeyNames(), ", "),
	},
}

// cookieState carries the jar shared by every exchange of one command.
type cookieState struct {
	jar   *cookiejar.Jar
	vault interface {
		Save(*cookiejar.Jar) error
	}
}

func newCookieState(ctx *cli.Context, a *appEnv) (*cookieState, error) {
	cs := &cookieState{}
	switch {
	case ctx.Bool("vault"):
		v, j, err := a.vaultJar()
		if err != nil {
			return nil, err
		}
		cs.jar, cs.vault = j, v
	case ctx.String("cookie") != "" || ctx.String("cookie-jar") != "":
		cs.jar = a.newJar()
	}
	return cs, nil
}

// save flushes the vault. Cookie files are written by Exchange.Close.
func (cs *cookieState) save() error {
	if cs.vault == nil {
		return nil
	}
	return cs.vault.Save(cs.jar)
}

func readData(fs afero.Fs, arg string) ([]byte, error) {
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := afero.ReadFile(fs, name)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		return b, nil
	}
	return []byte(arg), nil
}

// newExchange builds an exchange for rawURL from the request flags.
func newExchange(ctx *cli.Context, a *appEnv, cs *cookieState, rawURL string) (*warphttp.Exchange, error) {
	opts := []warphttp.ExchangeOption{
		warphttp.WithTransport(a.transport),
		warphttp.WithFs(a.fs),
		warphttp.WithLogger(a.log),
	}
	if cs.jar != nil {
		opts = append(opts, warphttp.WithJar(cs.jar))
	}
	e, err := warphttp.NewExchange(rawURL, opts...)
	if err != nil {
		return nil, err
	}

	if m := ctx.String("request"); m != "" {
		e.SetMethod(strings.ToUpper(m))
	}
	if d := ctx.String("data"); d != "" {
		body, err := readData(a.fs, d)
		if err != nil {
			return nil, err
		}
		e.SetBody(body)
	}
	for _, h := range ctx.StringSlice("header") {
		if err := e.Set(warphttp.OptHeader, h); err != nil {
			return nil, err
		}
	}
	if r := ctx.String("referer"); r != "" {
		e.SetReferer(r)
	}
	e.SetFollow(ctx.BoolT("location"))
	if ctx.IsSet("max-redirs") {
		e.SetMaxRedirects(ctx.Int("max-redirs"))
	}
	if p := ctx.String("preserve-method"); p != "" {
		if err := e.Set(warphttp.OptPreserveMethod, p); err != nil {
			return nil, err
		}
	}
	if ctx.Bool("rfc-resolve") {
		if err := e.Set(warphttp.OptResolveMode, "reference"); err != nil {
			return nil, err
		}
	}
	if f := ctx.String("cookie"); f != "" {
		if err := e.LoadCookies(f); err != nil {
			return nil, err
		}
	}
	if f := ctx.String("cookie-jar"); f != "" {
		e.SetCookieJarFile(f)
	}
	for _, kv := range ctx.StringSlice("opt") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, warphttp.NewConfigurationError("opt", fmt.Sprintf("%q is not key=value", kv))
		}
		key, err := warphttp.ParseOptionKey(k)
		if err != nil {
			return nil, err
		}
		if err := e.Set(key, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}
