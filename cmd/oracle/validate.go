package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/band4band/internal/oracle"
)

func validateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a game payload file and print its canonical form",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := readPayload(file)
			if err != nil {
				return err
			}
			pp, err := oracle.Prepare(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, string(pp.Canonical))
			fmt.Fprintf(out, "payload hash: %s\n", pp.Hash)
			fmt.Fprintf(out, "cid:          %s\n", pp.CID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the game payload JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readPayload(path string) (oracle.GamePayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return oracle.GamePayload{}, fmt.Errorf("read payload: %w", err)
	}
	return oracle.ParsePayload(raw)
}
