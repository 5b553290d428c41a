package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/ashwin/sia/internal/observability"
	"github.com/ashwin/sia/internal/tracing"
)

// Chunking parameters for ingested documents.
const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// indexableExtensions are the document types picked up by Sync.
var indexableExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Sync walks the docs directory and indexes changed documents. Unchanged
// files are skipped by content hash; deleted files are pruned.
func (s *Store) Sync(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "sia.knowledge", "knowledge.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		span.SetStatus(codes.Error, "sync already in progress")
		return errors.New("sync already in progress")
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.isDirty = false
		now := time.Now()
		s.lastSyncTime = &now
		s.mu.Unlock()
	}()

	logger.Info().Msg("Starting knowledge sync")
	start := time.Now()
	defer func() { observability.RecordKnowledgeSync(time.Since(start)) }()

	var docFiles []string
	err := filepath.WalkDir(s.docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !d.IsDir() && indexableExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			relPath, _ := filepath.Rel(s.docsDir, path)
			docFiles = append(docFiles, relPath)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to walk docs directory: %w", err)
	}

	filesIndexed := 0
	filesSkipped := 0
	chunksCreated := 0

	for _, relPath := range docFiles {
		fullPath := filepath.Join(s.docsDir, relPath)
		indexed, chunks, err := s.indexFile(ctx, fullPath, relPath)
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to index file")
			span.RecordError(err)
			continue
		}
		if indexed {
			filesIndexed++
			chunksCreated += chunks
		} else {
			filesSkipped++
		}
	}

	pruned, err := s.pruneDeletedFiles(docFiles)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune deleted files")
		span.RecordError(err)
	}

	logger.Info().
		Int("files_indexed", filesIndexed).
		Int("files_skipped", filesSkipped).
		Int("chunks_created", chunksCreated).
		Int("files_pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Knowledge sync completed")

	observability.SetKnowledgeChunks(s.Status().TotalChunks)

	return nil
}

// indexFile indexes a single document
func (s *Store) indexFile(ctx context.Context, fullPath, relPath string) (bool, int, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, 0, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	// Skip unchanged files
	var existingHash string
	err = s.db.QueryRow("SELECT content_hash FROM files WHERE path = ?", relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if err := s.removeFileTx(tx, relPath); err != nil {
		return false, 0, err
	}

	stat, _ := os.Stat(fullPath)
	result, err := tx.Exec(
		"INSERT INTO files (path, content_hash, indexed_at, size_bytes) VALUES (?, ?, ?, ?)",
		relPath, contentHash, time.Now().Unix(), stat.Size(),
	)
	if err != nil {
		return false, 0, err
	}

	fileID, _ := result.LastInsertId()

	chunks := chunkContent(string(content))

	for i, chunk := range chunks {
		chunkID := fmt.Sprintf("%s#%d", relPath, i)

		_, err := tx.Exec(
			"INSERT INTO chunks (id, file_id, content, start_offset, end_offset) VALUES (?, ?, ?, ?, ?)",
			chunkID, fileID, chunk.content, chunk.startOffset, chunk.endOffset,
		)
		if err != nil {
			return false, 0, err
		}

		_, err = tx.Exec(
			"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)",
			chunkID, chunk.content,
		)
		if err != nil {
			return false, 0, err
		}

		if s.embedder != nil {
			if err := s.storeEmbedding(ctx, tx, chunkID, chunk.content); err != nil {
				// Keep indexing; the chunk stays reachable via keyword search.
				s.logger.Warn().Err(err).Str("chunk", chunkID).Msg("Failed to store embedding")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}

	return true, len(chunks), nil
}

// removeFileTx deletes a file row and its dependent chunk rows. FTS5 and
// vec0 tables do not participate in foreign keys, so they are cleared
// explicitly.
func (s *Store) removeFileTx(tx *sql.Tx, relPath string) error {
	rows, err := tx.Query("SELECT c.id FROM chunks c JOIN files f ON c.file_id = f.id WHERE f.path = ?", relPath)
	if err != nil {
		return err
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range chunkIDs {
		if _, err := tx.Exec("DELETE FROM chunks_fts WHERE chunk_id = ?", id); err != nil {
			return err
		}
		if s.embedder != nil {
			if _, err := tx.Exec("DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec("DELETE FROM chunks WHERE id = ?", id); err != nil {
			return err
		}
	}

	_, err = tx.Exec("DELETE FROM files WHERE path = ?", relPath)
	return err
}

// storeEmbedding generates and stores the embedding for a chunk, with a
// content-hash cache in front of the embeddings API.
func (s *Store) storeEmbedding(ctx context.Context, tx *sql.Tx, chunkID, content string) error {
	contentHashBytes := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(contentHashBytes[:])

	var cachedEmbedding []byte
	err := tx.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&cachedEmbedding)

	var embedding []float32
	if err == nil {
		if err := json.Unmarshal(cachedEmbedding, &embedding); err != nil {
			return fmt.Errorf("failed to unmarshal cached embedding: %w", err)
		}
	} else {
		embedding, err = s.embedder.GenerateEmbedding(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}

		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		_, err = tx.Exec(
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
			contentHash, embeddingJSON, len(embedding), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for storage: %w", err)
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
		chunkID, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return nil
}

type chunk struct {
	content     string
	startOffset int
	endOffset   int
}

// chunkContent splits document text into overlapping chunks, breaking on
// line boundaries.
func chunkContent(content string) []chunk {
	var chunks []chunk
	lines := strings.Split(content, "\n")

	var currentChunk strings.Builder
	startOffset := 0
	currentOffset := 0

	for _, line := range lines {
		lineLen := len(line) + 1 // +1 for newline

		if currentChunk.Len() > 0 && currentChunk.Len()+lineLen > chunkSize {
			chunks = append(chunks, chunk{
				content:     strings.TrimSpace(currentChunk.String()),
				startOffset: startOffset,
				endOffset:   currentOffset,
			})

			// Start the next chunk with the tail of the previous one
			chunkText := currentChunk.String()
			if len(chunkText) > chunkOverlap {
				overlapText := chunkText[len(chunkText)-chunkOverlap:]
				currentChunk.Reset()
				currentChunk.WriteString(overlapText)
				startOffset = currentOffset - chunkOverlap
			} else {
				currentChunk.Reset()
				startOffset = currentOffset
			}
		}

		currentChunk.WriteString(line)
		currentChunk.WriteString("\n")
		currentOffset += lineLen
	}

	if strings.TrimSpace(currentChunk.String()) != "" {
		chunks = append(chunks, chunk{
			content:     strings.TrimSpace(currentChunk.String()),
			startOffset: startOffset,
			endOffset:   currentOffset,
		})
	}

	return chunks
}

// pruneDeletedFiles removes index entries for files that no longer exist.
func (s *Store) pruneDeletedFiles(existingFiles []string) (int, error) {
	rows, err := s.db.Query("SELECT path FROM files")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	existingSet := make(map[string]bool)
	for _, f := range existingFiles {
		existingSet[f] = true
	}

	var toDelete []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, err
		}
		if !existingSet[path] {
			toDelete = append(toDelete, path)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range toDelete {
		tx, err := s.db.Begin()
		if err != nil {
			return 0, err
		}
		if err := s.removeFileTx(tx, path); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}

	return len(toDelete), nil
}
