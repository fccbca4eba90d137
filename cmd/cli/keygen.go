package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"supportops/pkg/crypto"
)

// keygenCmd 生成凭据加密密钥，写入配置的 crypto.encryption_key
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a credential encryption key",
	Long: `Generate a new base64-encoded AES-256 key for encrypting integration
credentials. Put the output into crypto.encryption_key in config.yml.
Rotating the key invalidates credentials encrypted with the old one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
