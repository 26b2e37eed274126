package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warphttp/cmd/common"
	"github.com/warpdl/warphttp/pkg/warphttp"
)

var getFlags = append([]cli.Flag{
	cli.BoolFlag{
		Name:  "include, i",
		Usage: "print the response headers before the body",
	},
	cli.BoolFlag{
		Name:  "headers-only, I",
		Usage: "print only the response headers",
	},
	cli.StringFlag{
		Name:  "output, o",
		Usage: "write the output to this file instead of stdout",
	},
	cli.BoolFlag{
		Name:  "write-out, w",
		Usage: "print the status code and effective URL to stderr when done",
	},
}, requestFlags...)

func execMode(ctx *cli.Context) warphttp.ExecMode {
	switch {
	case ctx.Bool("headers-only"):
		return warphttp.ExecHeaders
	case ctx.Bool("include"):
		return warphttp.ExecHeadersBody
	}
	return warphttp.ExecBody
}

// interruptible cancels the returned context on the first interrupt.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func get(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no url provided"))
	}
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cs, err := newCookieState(ctx, a)
	if err != nil {
		return err
	}
	e, err := newExchange(ctx, a, cs, ctx.Args().First())
	if err != nil {
		return err
	}

	rctx, cancel := interruptible()
	defer cancel()
	out, execErr := e.ExecWith(rctx, execMode(ctx))

	// Cookies received before a failure are still worth keeping.
	if err := e.Close(); err != nil {
		common.PrintRuntimeErr(ctx, "get", "cookie-jar", err)
	}
	if err := cs.save(); err != nil {
		common.PrintRuntimeErr(ctx, "get", "vault", err)
	}
	if execErr != nil {
		return execErr
	}

	if name := ctx.String("output"); name != "" {
		if err := afero.WriteFile(a.fs, name, out, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	} else if _, err := stdout.Write(out); err != nil {
		return err
	}
	if ctx.Bool("write-out") {
		fmt.Fprintf(stderr, "%s %s\n", e.Info(warphttp.InfoHTTPCode), e.Info(warphttp.InfoEffectiveURL))
	}
	return nil
}
