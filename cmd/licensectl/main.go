package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"

	"licensegate/cmd/licensectl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Validate     commands.ValidateCmd     `cmd:"" help:"Validate the license for this machine"`
		Status       commands.StatusCmd       `cmd:"" help:"Show the cached license state"`
		Hwid         commands.HwidCmd         `cmd:"" help:"Print this machine's hardware ID"`
		Reset        commands.ResetCmd        `cmd:"" help:"Remove the cached license"`
		HashPassword commands.HashPasswordCmd `cmd:"" help:"Hash a password for an authority seed file"`
		Config       string                   `help:"Config file" type:"path" env:"LICENSEGATE_CONFIG"`
		Debug        bool                     `help:"Enable debug logging."`
		Version      kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("licensectl"),
		kong.Description("Inspect and manage the local license."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		ConfigFile: cli.Config,
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
	})
	cmd.FatalIfErrorf(err)
}
