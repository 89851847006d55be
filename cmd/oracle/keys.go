package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/band4band/internal/crypto"
)

func encryptKeyCmd(root *rootOptions) *cobra.Command {
	var out, password string
	var generate bool
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Write a password-encrypted publisher key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if password == "" {
				password = cfg.Oracle.KeyPassword
			}
			if password == "" {
				return errors.New("a password is required (--password or B4B_ORACLE_KEY_PASSWORD)")
			}

			keyHex := cfg.Oracle.PrivateKey
			if generate {
				k, err := ethcrypto.GenerateKey()
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				keyHex = hex.EncodeToString(ethcrypto.FromECDSA(k))
			} else if keyHex == "" {
				return errors.New("no key to encrypt: set oracle.private_key or pass --generate")
			}

			signer, err := crypto.NewSigner(keyHex)
			if err != nil {
				return err
			}
			if err := crypto.WriteKeyFile(out, keyHex, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for publisher %s\n", out, signer.Address().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "publisher.key.json", "output key file")
	cmd.Flags().StringVar(&password, "password", "", "encryption password (defaults to oracle.key_password)")
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a fresh key instead of encrypting oracle.private_key")
	return cmd
}
