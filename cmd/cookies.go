package cmd

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/warpdl/warphttp/cmd/common"
	"github.com/warpdl/warphttp/internal/cookies"
)

var cookieCommands = []cli.Command{
	{
		Name:               "list",
		Aliases:            []string{"ls"},
		Usage:              "list the cookies in the vault",
		ArgsUsage:          "[domain]",
		Action:             cookiesList,
		OnUsageError:       common.UsageErrorCallback,
		CustomHelpTemplate: CMD_HELP_TEMPL,
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "show-values",
				Usage: "print cookie values",
			},
		},
	},
	{
		Name:               "import",
		Usage:              "import a Firefox, Chrome or Netscape cookie store into the vault",
		ArgsUsage:          "<path>",
		Action:             cookiesImport,
		OnUsageError:       common.UsageErrorCallback,
		CustomHelpTemplate: CMD_HELP_TEMPL,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "domain",
				Usage: "only import cookies of this domain and its subdomains",
			},
		},
	},
	{
		Name:               "delete",
		Aliases:            []string{"rm"},
		Usage:              "delete cookies of a domain, optionally by name and path",
		ArgsUsage:          "<domain> [name [path]]",
		Action:             cookiesDelete,
		OnUsageError:       common.UsageErrorCallback,
		CustomHelpTemplate: CMD_HELP_TEMPL,
	},
	{
		Name:               "clear",
		Usage:              "remove the vault",
		Action:             cookiesClear,
		OnUsageError:       common.UsageErrorCallback,
		CustomHelpTemplate: CMD_HELP_TEMPL,
	},
}

func cookiesList(ctx *cli.Context) error {
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	_, j, err := a.vaultJar()
	if err != nil {
		return err
	}
	filter := ctx.Args().First()
	all := j.All()
	sort.SliceStable(all, func(i, k int) bool {
		if all[i].Domain != all[k].Domain {
			return all[i].Domain < all[k].Domain
		}
		return all[i].Name < all[k].Name
	})

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tNAME\tPATH\tEXPIRES\tFLAGS")
	n := 0
	for _, c := range all {
		if filter != "" && c.Domain != filter {
			continue
		}
		expires := "session"
		if !c.IsSession() {
			expires = humanize.RelTime(c.Expires, time.Now(), "ago", "from now")
		}
		name := c.Name
		if ctx.Bool("show-values") {
			name += "=" + c.Value
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Domain, name, c.Path, expires, cookieFlags(c.Secure, c.HTTPOnly, c.HostOnly))
		n++
	}
	tw.Flush()
	fmt.Fprintf(stdout, "%s cookies\n", humanize.Comma(int64(n)))
	return nil
}

func cookieFlags(secure, httpOnly, hostOnly bool) string {
	s := ""
	for _, f := range []struct {
		on bool
		c  string
	}{{secure, "S"}, {httpOnly, "H"}, {hostOnly, "O"}} {
		if f.on {
			s += f.c
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

func cookiesImport(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no cookie store provided"))
	}
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	v, j, err := a.vaultJar()
	if err != nil {
		return err
	}
	n, src, err := cookies.LoadInto(j, path, ctx.String("domain"), a.log)
	if err != nil {
		return err
	}
	if err := v.Save(j); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d cookies from %s\n", n, src.Browser())
	return nil
}

func cookiesDelete(ctx *cli.Context) error {
	args := ctx.Args()
	if args.First() == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no domain provided"))
	}
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	v, j, err := a.vaultJar()
	if err != nil {
		return err
	}
	if !j.Delete(args.Get(0), args.Get(1), args.Get(2)) {
		fmt.Fprintln(stdout, "no matching cookies")
		return nil
	}
	return v.Save(j)
}

func cookiesClear(ctx *cli.Context) error {
	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	v, err := a.vault()
	if err != nil {
		return err
	}
	return v.Remove()
}
