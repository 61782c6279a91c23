package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/finbase/docingest/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage docingest configuration",
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	var url, key string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set connection settings",
		Long:  "Set the dashboard URL and API key. Missing values are prompted for.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			reader := bufio.NewReader(os.Stdin)
			if url == "" {
				fmt.Printf("Dashboard URL [%s]: ", cfg.ServerURL)
				input, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				url = strings.TrimSpace(input)
			}
			if key == "" {
				fmt.Print("API key: ")
				input, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				key = strings.TrimSpace(input)
			}

			if url != "" {
				cfg.ServerURL = url
			}
			if key != "" {
				cfg.APIKey = key
			}
			if err := cfg.ValidateForConnection(); err != nil {
				return err
			}

			if err := config.Save(cfg, cfgFile); err != nil {
				return err
			}
			fmt.Println("Configuration saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Dashboard base URL")
	cmd.Flags().StringVar(&key, "key", "", "Dashboard API key")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("url:                        %s\n", cfg.ServerURL)
			fmt.Printf("api_key:                    %s\n", maskKey(cfg.APIKey))
			fmt.Printf("poll_interval_ms:           %d\n", cfg.Ingest.PollIntervalMS)
			fmt.Printf("poll_attempt_ceiling:       %d\n", cfg.Ingest.PollAttemptCeiling)
			fmt.Printf("transfer_timeout_floor_s:   %d\n", cfg.Ingest.TransferTimeoutFloorS)
			fmt.Printf("transfer_timeout_ceiling_s: %d\n", cfg.Ingest.TransferTimeoutCeilingS)
			fmt.Printf("progress_throttle_ms:       %d\n", cfg.Ingest.ProgressThrottleMS)
			fmt.Printf("on_poll_exhausted:          %s\n", cfg.Ingest.OnPollExhausted)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				fmt.Println(cfgFile)
				return nil
			}
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
