// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	coachconfig "github.com/mottych/PurposePath-AI-sub003/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage coachd configuration",
	Long:  `Manage configuration files and secrets for the coaching engine.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example coachd.yaml configuration file in ~/.coachd/`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: `Save an API key to the system keyring securely.

The key will be stored in your system's secure credential storage
(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

Run 'coachd config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification).`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Long:  `Remove an API key from the system keyring.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Long:  `List all available secret keys that can be stored in the keyring.`,
	Run:   runConfigListKeys,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources). Secrets are masked.`,
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := coachconfig.GetCoachDataDir()
	configPath := filepath.Join(configDir, "coachd.yaml")

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", configPath)
		os.Exit(1)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	example := heredoc.Doc(`
		# coachd configuration
		# Secrets (API keys, passwords) belong in the system keyring:
		#   coachd config set-key anthropic_api_key

		server:
		  host: 0.0.0.0
		  port: 8080

		storage:
		  backend: sqlite   # memory, sqlite, postgres, redis
		  sqlite:
		    path: ~/.coachd/coachd.db
		    encrypt: false
		  # postgres:
		  #   host: localhost
		  #   port: 5432
		  #   database: coachd
		  #   user: coachd
		  # redis:
		  #   addr: localhost:6379

		llm:
		  providers:
		    anthropic:
		      enabled: true
		    bedrock:
		      enabled: false
		      region: us-west-2
		    openai:
		      enabled: false
		  gateway:
		    retry_backoff_ms: 500
		    default_concurrency: 8

		prompts:
		  dir: ""           # template overrides, layered over embedded defaults
		  packs_dir: ""     # topic pack YAML files
		  cache_ttl_seconds: 300
		  hot_reload: true

		retention:
		  enabled: true
		  schedule: "*/10 * * * *"
		  terminal_retention_days: 14
		  resumable_retention_days: 30

		logging:
		  level: info
		  format: json
	`)

	if err := os.WriteFile(configPath, []byte(example), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Created %s\n", configPath)
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	// Validate key name using extensible mapping
	availableKeys := ListAvailableSecretKeys()
	validKeys := make(map[string]bool)
	for _, k := range availableKeys {
		validKeys[k] = true
	}

	if !validKeys[keyName] {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintf(os.Stderr, "Available keys:\n")
		for _, k := range availableKeys {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // New line after hidden input
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Secret cannot be empty\n")
		os.Exit(1)
	}

	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := GetSecretFromKeyring(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: coachd config set-key %s\n", keyName)
		os.Exit(1)
	}

	// Show partially masked
	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := DeleteSecretFromKeyring(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	for _, key := range ListAvailableSecretKeys() {
		fmt.Printf("  - %s\n", key)
	}
	fmt.Println("\nSet a key with: coachd config set-key <key-name>")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		fmt.Printf("Config file: %s\n\n", configFileUsed)
	} else {
		fmt.Printf("Config file: (none found, using defaults)\n\n")
	}

	fmt.Printf("server.host: %s\n", config.Server.Host)
	fmt.Printf("server.port: %d\n", config.Server.Port)
	fmt.Printf("storage.backend: %s\n", config.Storage.Backend)
	if config.Storage.Backend == "" || config.Storage.Backend == "sqlite" {
		fmt.Printf("storage.sqlite.path: %s\n", config.Storage.SQLite.Path)
		fmt.Printf("storage.sqlite.encrypt: %t\n", config.Storage.SQLite.Encrypt)
	}
	fmt.Printf("llm.providers.anthropic.enabled: %t\n", config.LLM.Providers.Anthropic.Enabled)
	if config.LLM.Providers.Anthropic.APIKey != "" {
		fmt.Printf("llm.providers.anthropic.api_key: %s\n", maskSecret(config.LLM.Providers.Anthropic.APIKey))
	}
	fmt.Printf("llm.providers.bedrock.enabled: %t\n", config.LLM.Providers.Bedrock.Enabled)
	fmt.Printf("llm.providers.openai.enabled: %t\n", config.LLM.Providers.OpenAI.Enabled)
	if config.LLM.Providers.OpenAI.APIKey != "" {
		fmt.Printf("llm.providers.openai.api_key: %s\n", maskSecret(config.LLM.Providers.OpenAI.APIKey))
	}
	fmt.Printf("prompts.dir: %s\n", config.Prompts.Dir)
	fmt.Printf("prompts.packs_dir: %s\n", config.Prompts.PacksDir)
	fmt.Printf("retention.enabled: %t\n", config.Retention.Enabled)
	fmt.Printf("retention.schedule: %s\n", config.Retention.Schedule)
	fmt.Printf("logging.level: %s\n", config.Logging.Level)
}

// maskSecret shows the first and last few characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
