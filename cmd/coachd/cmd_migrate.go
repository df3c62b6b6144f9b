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

	"github.com/spf13/cobra"

	"github.com/mottych/PurposePath-AI-sub003/pkg/observability"
	"github.com/mottych/PurposePath-AI-sub003/pkg/storage/backend"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply storage schema migrations",
	Long: `Bring the configured storage backend's schema to the latest version.

With --dry-run, pending migrations are listed without being applied.
Schema-less backends (memory, redis) have nothing to migrate.`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("dry-run", false, "list pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	store, err := backend.NewStorageBackend(ctx, config.Storage, observability.NewNoOpTracer())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage backend: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		inspector, ok := store.(backend.MigrationInspector)
		if !ok {
			fmt.Printf("Backend %q is schema-less; nothing to migrate\n", config.Storage.Backend)
			return
		}
		pending, err := inspector.PendingMigrations(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error inspecting migrations: %v\n", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println("Schema is up to date")
			return
		}
		fmt.Printf("%d pending migration(s):\n", len(pending))
		for _, m := range pending {
			fmt.Printf("  %3d  %s\n", m.Version, m.Description)
		}
		return
	}

	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Schema is up to date")
}
