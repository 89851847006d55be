package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

func inspectCmd(root *rootOptions) *cobra.Command {
	var league, gameID string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a feed's latest update and its recent history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if league == "" {
				league = cfg.Oracle.League
			}
			key, err := domain.NewFeedKey(league, gameID)
			if err != nil {
				return err
			}
			view, err := nodeClient(cfg).Feed(cmd.Context(), key)
			if err != nil {
				return err
			}
			renderFeed(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().StringVar(&league, "league", "", "league of the feed (defaults to oracle.league)")
	cmd.Flags().StringVar(&gameID, "game-id", "", "game of the feed")
	_ = cmd.MarkFlagRequired("game-id")
	return cmd
}

func renderFeed(out io.Writer, v api.FeedView) {
	fmt.Fprintf(out, "feed:        %s\n", v.Feed)
	fmt.Fprintf(out, "updates:     %d\n", v.UpdateCount)
	if v.UpdateCount == 0 {
		fmt.Fprintln(out, "no updates published yet")
		return
	}
	fmt.Fprintf(out, "publisher:   %s\n", v.Publisher.Hex())
	fmt.Fprintf(out, "latest hash: %s\n", v.LatestHash)
	fmt.Fprintf(out, "latest ts:   %d (%s)\n", v.LatestTS, formatTS(v.LatestTS))
	fmt.Fprintf(out, "cid:         %s\n\n", v.CID)

	table := tablewriter.NewWriter(out)
	table.Header("#", "Timestamp", "Time (UTC)", "Payload hash")
	for i := len(v.History) - 1; i >= 0; i-- {
		e := v.History[i]
		table.Append(
			strconv.Itoa(len(v.History)-i),
			strconv.FormatInt(e.Timestamp, 10),
			formatTS(e.Timestamp),
			e.Hash.String(),
		)
	}
	table.Render()
}

func formatTS(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
