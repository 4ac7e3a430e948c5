package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"dancehost/internal/auth"
	"dancehost/internal/config"

	"github.com/spf13/cobra"
)

var (
	secret    string
	expiresIn time.Duration
)

// rootCmd mints a bearer token for local testing against the realtime server.
var rootCmd = &cobra.Command{
	Use:   "devtoken <user-id>",
	Short: "Mint a development bearer token for a user id",
	Long: `devtoken signs an HS256 token carrying the user_id claim the realtime server
verifies. The secret defaults to JWT_SECRET.

Example:
  wscat -c "ws://localhost:8080/ws?channel_kind=chat&channel_id=c1&token=$(devtoken u1)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if secret == "" {
			return fmt.Errorf("no secret: pass --secret or set JWT_SECRET")
		}
		cfg := config.Default()
		cfg.JWT.Secret = []byte(secret)
		cfg.JWT.ExpiresIn = expiresIn

		token, err := auth.NewService(cfg).IssueToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	rootCmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "Token lifetime (0 for no expiry)")
}
