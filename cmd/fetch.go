package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"smartcommunity/config"
	"smartcommunity/feeds"
	"smartcommunity/models"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Aggregate feeds once and print the result",
		Description: `Fetches the given origins exactly like GET /feed and prints the
aggregated feed as a single line of JSON on stdout.

Use a tool like jq to process the output. Prints all log messages to stderr.`,
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:     "origin",
				Usage:    "Origin to fetch, repeatable",
				Required: true,
			},
		}, feedFlags()...),
		Action: func(ctx *cli.Context) error {
			// Keep stdout for the feed
			log.SetOutput(os.Stderr)

			registry, err := config.LoadRegistry(ctx.String("origins-file"))
			if err != nil {
				return err
			}

			origins := lo.Map(ctx.StringSlice("origin"), func(origin string, _ int) models.FeedOrigin {
				return models.FeedOrigin(origin)
			})

			aggregator := feeds.NewAggregator(registry, feeds.NewHTTPFetcher(nil, ""), feeds.WithTimeout(ctx.Duration("feed-timeout")))
			feed, err := aggregator.Aggregate(ctx.Context, origins)
			if err != nil {
				return err
			}

			for _, e := range feed.Error {
				log.WithField("origin", e.Origin).Warn(e.Message)
			}

			out, err := json.Marshal(feed)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
