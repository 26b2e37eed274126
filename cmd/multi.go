package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/warphttp/cmd/common"
	"github.com/warpdl/warphttp/pkg/warphttp"
)

var multiFlags = append([]cli.Flag{
	cli.StringFlag{
		Name:  "input-file, F",
		Usage: "read URLs from this file, one per line",
	},
	cli.StringFlag{
		Name:  "output-dir, O",
		Usage: "directory the response bodies are saved in",
		Value: ".",
	},
	cli.BoolFlag{
		Name:  "no-progress",
		Usage: "do not draw the progress bar",
	},
}, requestFlags...)

func multi(ctx *cli.Context) error {
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	urls := append([]string(nil), ctx.Args()...)
	if f := ctx.String("input-file"); f != "" {
		more, err := ParseInputFile(a.fs, f)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no url provided"))
	}
	cs, err := newCookieState(ctx, a)
	if err != nil {
		return err
	}

	var barOut io.Writer = stderr
	if ctx.Bool("no-progress") {
		barOut = io.Discard
	}
	p := mpb.New(mpb.WithOutput(barOut))
	bar, done := common.InitBar(p, "Fetching", len(urls))

	s := warphttp.NewScheduler(a.transport,
		warphttp.WithSchedulerLogger(a.log),
		warphttp.WithCompletionHook(func(e *warphttp.Exchange) {
			var n int64
			if r := e.Response(); r != nil {
				n = int64(len(r.Body))
			}
			done(n)
		}),
	)
	defer s.Close()

	exchanges := make([]*warphttp.Exchange, 0, len(urls))
	for _, u := range urls {
		e, err := newExchange(ctx, a, cs, u)
		if err != nil {
			bar.Abort(true)
			p.Wait()
			return fmt.Errorf("%s: %w", u, err)
		}
		if err := s.Add(e); err != nil {
			bar.Abort(true)
			p.Wait()
			return err
		}
		exchanges = append(exchanges, e)
	}

	rctx, cancel := interruptible()
	defer cancel()
	runErr := s.Run(rctx)
	if !bar.Completed() {
		bar.Abort(false)
	}
	p.Wait()

	dir := ctx.String("output-dir")
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", common.Beaut("#", 3), "STATUS", "SIZE", "URL")
	for i, e := range exchanges {
		status, size, target := "ERR", "-", e.Options().URL
		if e.Err() == nil {
			body := e.Response().Body
			name := filepath.Join(dir, bodyFileName(i, e.LastURL()))
			if err := afero.WriteFile(a.fs, name, body, 0o644); err != nil {
				common.PrintRuntimeErr(ctx, "multi", "write", err)
			}
			status = e.Info(warphttp.InfoHTTPCode)
			size = humanize.IBytes(uint64(len(body)))
			target = e.LastURL()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", common.Beaut(fmt.Sprint(i+1), 3), status, size, common.Truncate(target, 60))
		if err := e.Close(); err != nil {
			common.PrintRuntimeErr(ctx, "multi", "cookie-jar", err)
		}
	}
	tw.Flush()

	if err := cs.save(); err != nil {
		common.PrintRuntimeErr(ctx, "multi", "vault", err)
	}
	return runErr
}

// bodyFileName names the file of the i-th response after its final URL.
func bodyFileName(i int, rawURL string) string {
	name := rawURL
	if k := strings.Index(name, "://"); k >= 0 {
		name = name[k+3:]
	}
	if k := strings.IndexAny(name, "?#"); k >= 0 {
		name = name[:k]
	}
	name = strings.TrimRight(name, "/")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, name)
	if name == "" {
		name = "response"
	}
	return fmt.Sprintf("%03d_%s", i+1, name)
}
