package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"smartcommunity/schema"
)

func schemaCmd() *cli.Command {
	return &cli.Command{
		Name:        "schema",
		Usage:       "Write the feed JSON schema",
		Description: `Derives the JSON schema of the /feed response and writes it to the output directory. Prints the path of the written file.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   "res/schema",
			},
			&cli.BoolFlag{
				Name:  "stdout",
				Usage: "Print the schema instead of writing it",
			},
		},
		Action: func(ctx *cli.Context) error {
			publisher, err := schema.New()
			if err != nil {
				return err
			}

			if ctx.Bool("stdout") {
				_, err := os.Stdout.Write(append(publisher.Bytes(), '\n'))
				return err
			}

			path, err := publisher.WriteFile(ctx.String("out"))
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
