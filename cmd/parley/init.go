package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginUserID   string
	loginUsername string
)

func init() {
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "Id of the signed-in user (required)")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "Username of the signed-in user")
	_ = loginCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an access token in ~/.parley/config.toml",
	Long:  "Store the bearer token and the identity of the signed-in user in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfigFile(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		cfg.Auth.UserID = loginUserID
		cfg.Auth.Username = loginUsername
		if cfg.Default.Env == "" {
			cfg.Default.Env = "prod"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
