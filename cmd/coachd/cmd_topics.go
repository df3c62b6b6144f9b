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
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	coachconfig "github.com/mottych/PurposePath-AI-sub003/pkg/config"
	"github.com/mottych/PurposePath-AI-sub003/pkg/prompts"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect the topic catalog",
	Long:  `List and inspect the builtin topics plus any configured topic packs.`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered topics",
	Run:   runTopicsList,
}

var topicsShowCmd = &cobra.Command{
	Use:   "show [topic-id]",
	Short: "Show one topic's definition",
	Args:  cobra.ExactArgs(1),
	Run:   runTopicsShow,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsShowCmd)
	topicsListCmd.Flags().String("kind", "", "filter by kind (conversation, single_shot)")
}

// loadCatalog builds the registry the same way serve does, minus the
// override and cache tiers that only matter for a running server.
func loadCatalog(ctx context.Context) (*topics.Registry, error) {
	embedded, err := topics.EmbeddedTemplates()
	if err != nil {
		return nil, err
	}

	packStore := prompts.NewMemoryStore()
	var packs []*coachconfig.TopicPack
	if config.Prompts.PacksDir != "" {
		packs, err = coachconfig.LoadTopicPackDir(config.Prompts.PacksDir)
		if err != nil {
			return nil, err
		}
		for _, pack := range packs {
			for ref, text := range pack.Templates {
				packStore.Put(ref, text)
			}
		}
	}

	reg := topics.NewRegistry(prompts.NewTieredStore(packStore, embedded))
	if err := topics.RegisterBuiltins(ctx, reg); err != nil {
		return nil, err
	}
	for _, pack := range packs {
		for _, def := range pack.Definitions {
			if err := reg.Register(ctx, def); err != nil {
				return nil, fmt.Errorf("pack %s: %w", pack.Name, err)
			}
		}
	}
	return reg, nil
}

func runTopicsList(cmd *cobra.Command, args []string) {
	reg, err := loadCatalog(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading topics: %v\n", err)
		os.Exit(1)
	}

	kind, _ := cmd.Flags().GetString("kind")
	var defs []*topics.Definition
	switch kind {
	case "":
		defs = reg.ListAll()
	case "conversation":
		defs = reg.ListConversationTopics()
	case "single_shot":
		defs = reg.ListSingleShotTopics()
	default:
		fmt.Fprintf(os.Stderr, "Unknown kind %q (conversation, single_shot)\n", kind)
		os.Exit(1)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tPARAMETERS")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", def.ID, def.Kind, def.Name, len(def.Parameters))
	}
	_ = w.Flush()
}

func runTopicsShow(cmd *cobra.Command, args []string) {
	reg, err := loadCatalog(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading topics: %v\n", err)
		os.Exit(1)
	}

	def, err := reg.Lookup(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Topic not found: %s\n", args[0])
		suggestTopics(reg, args[0])
		os.Exit(1)
	}

	fmt.Printf("ID:          %s\n", def.ID)
	fmt.Printf("Name:        %s\n", def.Name)
	fmt.Printf("Kind:        %s\n", def.Kind)
	if def.Description != "" {
		fmt.Printf("Description: %s\n", def.Description)
	}
	if def.Freeform {
		fmt.Printf("Freeform:    true\n")
	}
	if def.CompletionMarker != "" {
		fmt.Printf("Marker:      %s\n", def.CompletionMarker)
	}

	if len(def.Parameters) > 0 {
		fmt.Println("Parameters:")
		for _, p := range def.Parameters {
			required := ""
			if p.Required {
				required = " (required)"
			}
			fmt.Printf("  %s: %s%s\n", p.Name, p.Kind, required)
		}
	}

	roles := make([]string, 0, len(def.Templates))
	for role := range def.Templates {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	fmt.Println("Templates:")
	for _, role := range roles {
		fmt.Printf("  %s: %s\n", role, def.Templates[topics.TemplateRole(role)])
	}
}

// suggestTopics prints close matches for a mistyped topic id.
func suggestTopics(reg *topics.Registry, input string) {
	ids := make([]string, 0, reg.Len())
	for _, def := range reg.ListAll() {
		ids = append(ids, def.ID)
	}
	matches := fuzzy.Find(input, ids)
	if len(matches) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "Did you mean:")
	for i, m := range matches {
		if i >= 3 {
			break
		}
		fmt.Fprintf(os.Stderr, "  %s\n", m.Str)
	}
}
