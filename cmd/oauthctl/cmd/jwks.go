package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	oauth "github.com/veupathdb/oauth-server"
)

var jwksSeed string

var jwksCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Print the JWKS document a server with this seed would publish",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := oauth.NewSigningKeyStore(jwksSeed)
		if err != nil {
			return err
		}
		document, err := json.MarshalIndent(oauth.NewJWKSService(keys).JWKS(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(document))
		return nil
	},
}

func init() {
	jwksCmd.Flags().StringVar(&jwksSeed, "seed", "", "key generation seed (required)")
	_ = jwksCmd.MarkFlagRequired("seed")
	rootCmd.AddCommand(jwksCmd)
}
