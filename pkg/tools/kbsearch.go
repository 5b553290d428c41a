package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashwin/sia/pkg/knowledge"
)

// kbTopK is how many documents a knowledge base lookup returns.
const kbTopK = 4

// KnowledgeSearcher is the slice of the knowledge store the tool needs.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Document, error)
	Ready() bool
}

// KBSearchTool builds the kb_search tool definition over a knowledge store.
func KBSearchTool(searcher KnowledgeSearcher) Definition {
	return Definition{
		Name:        "kb_search",
		Description: "Search the private knowledge base for indexed documents.",
		Parameters: map[string]Parameter{
			"query": {
				Type:        "string",
				Description: "The search query.",
				Required:    true,
			},
		},
		Available:          searcher.Ready,
		UnavailableMessage: "The knowledge base isn't available because no documents have been indexed on the server.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)

			docs, err := searcher.Search(ctx, query, kbTopK)
			if err != nil {
				return "", fmt.Errorf("knowledge base search failed: %w", err)
			}
			if len(docs) == 0 {
				return "No matching documents found in the knowledge base.", nil
			}

			blocks := make([]string, 0, len(docs))
			for _, doc := range docs {
				blocks = append(blocks, fmt.Sprintf("Title: %s\nContent: %s", doc.Title, doc.Content))
			}
			return strings.Join(blocks, "\n\n"), nil
		},
	}
}
