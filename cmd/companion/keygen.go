package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new URL-safe random API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := generateAPIKey(length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", 32, "number of random bytes")
	return cmd
}

// generateAPIKey returns n random bytes encoded as unpadded URL-safe base64.
func generateAPIKey(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("key length must be at least 16 bytes, got %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
