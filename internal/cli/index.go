package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ashwin/sia/internal/config"
	"github.com/ashwin/sia/pkg/knowledge"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the knowledge base documents",
	Long: `Index the configured documents directory into the knowledge base.
Unchanged files are skipped, removed files are pruned from the index.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Knowledge.Enabled || cfg.Knowledge.DocsDir == "" {
		return fmt.Errorf("knowledge base is not configured (set knowledge.enabled and knowledge.docs_dir)")
	}

	var embedder knowledge.EmbeddingProvider
	if cfg.Knowledge.Embedding.APIKey != "" {
		embedder = knowledge.NewOpenAIEmbedder(cfg.Knowledge.Embedding.APIKey, cfg.Knowledge.Embedding.Model)
	} else {
		fmt.Println("No embedding API key configured, indexing for keyword search only")
	}

	kb, err := knowledge.New(knowledge.Config{
		DocsDir:  cfg.Knowledge.DocsDir,
		DBPath:   cfg.Knowledge.DBPath,
		Logger:   zerolog.Nop(),
		Embedder: embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer kb.Close()

	fmt.Printf("Indexing %s ...\n", cfg.Knowledge.DocsDir)
	if err := kb.Sync(cmd.Context()); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	status := kb.Status()
	fmt.Printf("Indexed %d files, %d chunks\n", status.TotalFiles, status.TotalChunks)
	return nil
}
