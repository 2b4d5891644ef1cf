package cmd

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	"smartcommunity/config"
)

func originsCmd() *cli.Command {
	return &cli.Command{
		Name:  "origins",
		Usage: "List the feed origins",
		Description: `Prints the feed origins, built-in ones and those of the origins file,
as the JSON object served on /feed/origins.`,
		Flags: feedFlags(),
		Action: func(ctx *cli.Context) error {
			registry, err := config.LoadRegistry(ctx.String("origins-file"))
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			encoder.SetEscapeHTML(false)
			return encoder.Encode(registry.Describe())
		},
	}
}
