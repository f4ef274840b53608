package cmd

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	oauth "github.com/veupathdb/oauth-server"
)

var keygenSeed string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Derive the ES512 signing key pair for a seed",
	Long: `Derives the deterministic P-521 key pair the server would build from
the given seed and prints both halves base64-encoded in DER form. The same
seed always produces the same key pair, so the public key printed here is
exactly what a server configured with this seed will publish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := oauth.NewSigningKeyStore(keygenSeed)
		if err != nil {
			return err
		}

		private, err := x509.MarshalECPrivateKey(keys.KeyPair())
		if err != nil {
			return fmt.Errorf("encoding private key: %w", err)
		}
		public, err := oauth.EncodePublicKey(keys.PublicKey())
		if err != nil {
			return fmt.Errorf("encoding public key: %w", err)
		}

		fmt.Printf("private key: %s\n", base64.StdEncoding.EncodeToString(private))
		fmt.Printf("public key:  %s\n", public)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenSeed, "seed", "", "key generation seed (required)")
	_ = keygenCmd.MarkFlagRequired("seed")
	rootCmd.AddCommand(keygenCmd)
}
