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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mottych/PurposePath-AI-sub003/internal/version"
	coachconfig "github.com/mottych/PurposePath-AI-sub003/pkg/config"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "coachd",
	Short:   "Coaching session engine - multi-tenant LLM coaching conversations",
	Long:    `coachd runs the coaching session engine: an HTTP API for tenant-isolated, turn-bounded coaching conversations and single-shot analysis topics, backed by pluggable session storage and multiple LLM providers.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $COACHD_DATA_DIR/coachd.yaml)")

	// Server flags
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP server host")

	// Storage flags
	// GetCoachDataDir respects COACHD_DATA_DIR environment variable
	defaultDBPath := filepath.Join(coachconfig.GetCoachDataDir(), "coachd.db")
	rootCmd.PersistentFlags().String("storage-backend", "sqlite", "storage backend (memory, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite database path")

	// LLM flags
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("openai-key", "", "OpenAI API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("bedrock-region", "", "AWS Bedrock region")

	// Prompt flags
	rootCmd.PersistentFlags().String("prompts-dir", "", "directory of template overrides (layered over embedded defaults)")
	rootCmd.PersistentFlags().String("packs-dir", "", "directory of topic pack YAML files")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))

	_ = viper.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("storage-backend"))
	_ = viper.BindPFlag("storage.sqlite.path", rootCmd.PersistentFlags().Lookup("db"))

	_ = viper.BindPFlag("llm.providers.anthropic.api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.providers.openai.api_key", rootCmd.PersistentFlags().Lookup("openai-key"))
	_ = viper.BindPFlag("llm.providers.bedrock.region", rootCmd.PersistentFlags().Lookup("bedrock-region"))

	_ = viper.BindPFlag("prompts.dir", rootCmd.PersistentFlags().Lookup("prompts-dir"))
	_ = viper.BindPFlag("prompts.packs_dir", rootCmd.PersistentFlags().Lookup("packs-dir"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
