// Command ken is the CLI entrypoint for the executive-assistant runtime:
// it loads configuration, wires every component (C1-C9), and starts
// whichever channel adapters are enabled.
//
// Usage:
//
//	ken serve --config config.yaml
//	ken validate --config config.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	ken "github.com/executive-assistant/ken"
	"github.com/executive-assistant/ken/internal/logctx"
)

// CLI is the top-level command-line interface, modeled on the teacher's
// kong-based CLI struct but scoped to this runtime's two operator
// surfaces: run the server, or check a config file before deploying it.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the runtime and its enabled channels."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file without starting anything."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file (YAML)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(ken.GetVersion().String())
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ken"),
		kong.Description("Executive assistant runtime: multi-channel, multi-tenant conversational agent."),
		kong.UsageOnError(),
	)

	logctx.Init(logctx.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		slog.Error("ken: command failed", "error", err)
		os.Exit(1)
	}
}
