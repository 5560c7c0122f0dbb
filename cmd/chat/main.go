// Command chat is a line-mode client for the direct-messaging backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"boomfare/internal/api"
	"boomfare/internal/config"
	"boomfare/internal/logging"
)

var (
	envFile string
	apiURL  string
	pretty  bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Direct messages from the terminal",
	Long: `chat talks to a boomfare server over REST and WebSocket.

Available subcommands:
  register - Create an account
  open     - Sign in and start an interactive session`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional dotenv file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "server base URL (overrides API_URL)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "human-readable logs")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(openCmd)
}

// setup loads configuration and builds the API client shared by subcommands.
func setup() (*config.Client, *api.Client, zerolog.Logger, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel, pretty)
	return cfg, api.New(cfg.APIURL, timeout, log), log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
