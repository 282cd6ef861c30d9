package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [api-key]",
		Short: "Print the SHA-256 hash of a control plane API key",
		Long: `Print the lower-case hex SHA-256 of an API key, the format expected in
VISIBILITY_SERVER_CONTROL_API_KEY_HASH.

With no argument the key is read from standard input, which keeps it out of
shell history:
  printf %s "$API_KEY" | visibilityctl hash-key`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				key = strings.TrimRight(string(b), "\r\n")
			}
			if key == "" {
				return errors.New("api key cannot be empty")
			}

			sum := sha256.Sum256([]byte(key))
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sum[:]))
			return nil
		},
	}
}
