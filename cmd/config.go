package cmd

import "time"

// DEF_TIMEOUT bounds a whole hop unless --timeout overrides it.
const DEF_TIMEOUT = 2 * time.Minute

const DESCRIPTION = `
warphttp is a scriptable HTTP client. It follows redirects hop by hop,
keeps cookies in a public suffix aware jar and runs many requests
concurrently.
`

const (
	GetDescription = `The get command performs one request and prints the
response body, its headers or both.

Redirects are followed by default. When a cookie jar is in use every
hop sends and stores cookies, so cookies set halfway through a redirect
chain reach its end.

Example:
        warphttp get https://example.com
        warphttp get -X POST -d 'a=1' -i https://example.com/form
        warphttp get -c cookies.txt -b cookies.txt https://example.com/login

`
	MultiDescription = `The multi command runs several requests concurrently
and saves every response body in the output directory.

URLs are taken from the arguments and from an input file holding one URL
per line. Lines starting with # are ignored.

Example:
        warphttp multi https://a.example https://b.example
        warphttp multi -F urls.txt -O responses

`
	CookiesDescription = `The cookies command manages the encrypted cookie vault
used by "get --vault" and "multi --vault".

Example:
        warphttp cookies list
        warphttp cookies import ~/.mozilla/firefox/x.default/cookies.sqlite --domain example.com
        warphttp cookies delete example.com session

`
)

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`
