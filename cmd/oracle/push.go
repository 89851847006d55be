package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	s3blob "github.com/alanyoungcy/band4band/internal/blob/s3"
	"github.com/alanyoungcy/band4band/internal/config"
	"github.com/alanyoungcy/band4band/internal/crypto"
	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

type pushOptions struct {
	league   string
	gameID   string
	file     string
	ts       int64
	initFeed bool
}

func pushCmd(root *rootOptions) *cobra.Command {
	opts := &pushOptions{}
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Pin a game payload and submit it as a signed feed update",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runPush(cmd.Context(), cmd, cfg, opts, root.logger())
		},
	}
	cmd.Flags().StringVar(&opts.league, "league", "", "league of the feed, e.g. NFL (defaults to oracle.league)")
	cmd.Flags().StringVar(&opts.gameID, "game-id", "", "game of the feed, e.g. 2025-NE-NYJ-001")
	cmd.Flags().StringVar(&opts.file, "file", "", "path to the game payload JSON")
	cmd.Flags().Int64Var(&opts.ts, "ts", 0, "update timestamp in Unix seconds (default now)")
	cmd.Flags().BoolVar(&opts.initFeed, "init", false, "create the feed first if it does not exist")
	_ = cmd.MarkFlagRequired("game-id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runPush(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *pushOptions, logger *slog.Logger) error {
	league := opts.league
	if league == "" {
		league = cfg.Oracle.League
	}
	key, err := domain.NewFeedKey(league, opts.gameID)
	if err != nil {
		return err
	}

	p, err := readPayload(opts.file)
	if err != nil {
		return err
	}
	if p.League != key.League.String() || p.GameID != key.GameID.String() {
		return fmt.Errorf("payload is for %s/%s, not %s", p.League, p.GameID, key)
	}
	pp, err := oracle.Prepare(p)
	if err != nil {
		return err
	}
	logger.Info("payload validated",
		slog.String("feed", key.String()),
		slog.String("payload_hash", pp.Hash.String()),
		slog.String("cid", pp.CID),
	)

	client := nodeClient(cfg)
	if err := pin(ctx, cfg, client, pp); err != nil {
		return err
	}
	logger.Info("payload pinned", slog.String("cid", pp.CID))

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Oracle.PrivateKey,
		EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
		KeyPassword:      cfg.Oracle.KeyPassword,
	})
	if err != nil {
		return err
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return err
	}

	if opts.initFeed {
		if _, err := client.InitFeed(ctx, signer, key); err != nil && !oracle.IsCode(err, domain.CodeOf(domain.ErrAlreadyExists)) {
			return err
		}
	}

	ts := opts.ts
	if ts == 0 {
		ts = time.Now().Unix()
	}
	update, err := pp.Update(ts)
	if err != nil {
		return err
	}
	view, err := client.SubmitUpdate(ctx, signer, key, update)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "published %s update #%d\n", view.Feed, view.UpdateCount)
	fmt.Fprintf(out, "  publisher:    %s\n", view.Publisher.Hex())
	fmt.Fprintf(out, "  payload hash: %s\n", view.LatestHash)
	fmt.Fprintf(out, "  cid:          %s\n", view.CID)
	fmt.Fprintf(out, "  timestamp:    %d\n", view.LatestTS)
	return nil
}

// pin stores the canonical payload in the bucket when S3 is configured and
// otherwise asks the node to pin it.
func pin(ctx context.Context, cfg *config.Config, client *oracle.Client, pp oracle.Prepared) error {
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		defer s3Client.Close()
		pinner := s3blob.NewPinner(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		return pinner.Pin(ctx, pp.CID, pp.Canonical)
	}

	res, err := client.Pin(ctx, pp.Canonical)
	if err != nil {
		return err
	}
	if res.CID != pp.CID {
		return errors.New("node pinned the payload under a different cid " + res.CID)
	}
	return nil
}
