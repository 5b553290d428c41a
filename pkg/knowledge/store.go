package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashwin/sia/internal/observability"
	"github.com/ashwin/sia/internal/tracing"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Document is a retrieved knowledge base chunk.
type Document struct {
	Title   string  `json:"title"`
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Status reports the current state of the store.
type Status struct {
	TotalFiles   int        `json:"total_files"`
	TotalChunks  int        `json:"total_chunks"`
	IsDirty      bool       `json:"is_dirty"`
	IsSyncing    bool       `json:"is_syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Store indexes documents into sqlite with vector and FTS5 search.
type Store struct {
	db           *sql.DB
	docsDir      string
	logger       zerolog.Logger
	embedder     EmbeddingProvider
	watcher      *FileWatcher
	mu           sync.RWMutex
	isDirty      bool
	isSyncing    bool
	lastSyncTime *time.Time
}

// Config holds store configuration
type Config struct {
	DocsDir  string
	DBPath   string
	Logger   zerolog.Logger
	Embedder EmbeddingProvider // Optional, if nil search is keyword-only

	// Watch enables the filesystem watcher on DocsDir.
	Watch bool
}

// New creates a Store and initializes its schema.
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DocsDir == "" {
		return nil, errors.New("docs directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	// Open database with FTS5 support
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		docsDir:  cfg.DocsDir,
		logger:   cfg.Logger.With().Str("component", "knowledge").Logger(),
		embedder: cfg.Embedder,
		isDirty:  true, // Start dirty to trigger initial sync
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Watch {
		watcher, err := NewFileWatcher(s.logger, s.MarkDirty)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Watch(cfg.DocsDir); err != nil {
			watcher.Stop()
			db.Close()
			return nil, fmt.Errorf("failed to watch docs directory: %w", err)
		}
		s.watcher = watcher
	}

	s.logger.Info().Str("docs_dir", cfg.DocsDir).Msg("Knowledge store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Create vector table if an embedding provider is available
	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())

		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Ready reports whether the store has indexed content to search.
func (s *Store) Ready() bool {
	if s == nil {
		return false
	}
	var chunks int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return false
	}
	return chunks > 0
}

// Search performs hybrid search (vector + keyword) and returns the topK
// best-scoring chunks as documents.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"sia.knowledge",
		"knowledge.search",
		attribute.String("query", query),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() { observability.RecordKnowledgeSearch(time.Since(start)) }()

	if query == "" {
		return []Document{}, nil
	}
	if topK <= 0 {
		topK = 4
	}

	// Sync if dirty
	s.mu.RLock()
	dirty := s.isDirty
	s.mu.RUnlock()

	if dirty {
		if err := s.Sync(ctx); err != nil {
			logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	const candidateLimit = 50

	var vectorResults []vectorSearchResult
	var keywordResults []keywordSearchResult
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if s.embedder != nil {
			vectorResults, vectorErr = s.vectorSearch(ctx, query, candidateLimit)
		}
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.keywordSearch(query, candidateLimit)
	}()

	wg.Wait()

	// Graceful degradation: either side may fail alone
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}

	if vectorErr != nil && keywordErr != nil {
		span.RecordError(vectorErr)
		span.RecordError(keywordErr)
		span.SetStatus(codes.Error, "both search methods failed")
		return nil, fmt.Errorf("both search methods failed")
	}

	docs := s.mergeResults(vectorResults, keywordResults)
	if len(docs) > topK {
		docs = docs[:topK]
	}

	logger.Debug().
		Str("query", query).
		Int("results", len(docs)).
		Msg("Knowledge search completed")

	return docs, nil
}

type vectorSearchResult struct {
	chunkID    string
	similarity float64
}

type keywordSearchResult struct {
	chunkID   string
	bm25Score float64
}

// vectorSearch performs vector similarity search
func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]vectorSearchResult, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			chunk_id,
			vec_distance_cosine(embedding, ?) as distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []vectorSearchResult
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}

		results = append(results, vectorSearchResult{
			chunkID:    chunkID,
			similarity: 1.0 - distance,
		})
	}

	return results, rows.Err()
}

// keywordSearch performs FTS5 keyword search
func (s *Store) keywordSearch(query string, limit int) ([]keywordSearchResult, error) {
	rows, err := s.db.Query(`
		SELECT chunk_id, bm25(chunks_fts) as score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []keywordSearchResult
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}

		// BM25 scores are negative, convert to positive
		results = append(results, keywordSearchResult{
			chunkID:   chunkID,
			bm25Score: -score,
		})
	}

	return results, rows.Err()
}

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// mergeResults combines vector and keyword hits into scored documents.
func (s *Store) mergeResults(vectorResults []vectorSearchResult, keywordResults []keywordSearchResult) []Document {
	vectorMap := make(map[string]float64)
	keywordMap := make(map[string]float64)

	var maxKeyword float64
	for _, r := range vectorResults {
		vectorMap[r.chunkID] = r.similarity
	}
	for _, r := range keywordResults {
		keywordMap[r.chunkID] = r.bm25Score
		if r.bm25Score > maxKeyword {
			maxKeyword = r.bm25Score
		}
	}

	chunkIDs := make(map[string]bool)
	for id := range vectorMap {
		chunkIDs[id] = true
	}
	for id := range keywordMap {
		chunkIDs[id] = true
	}

	type scoredResult struct {
		chunkID string
		score   float64
	}

	var scored []scoredResult
	for chunkID := range chunkIDs {
		var normalizedVector, normalizedKeyword float64

		// Map cosine similarity [-1, 1] to [0, 1]
		if vectorScore, ok := vectorMap[chunkID]; ok {
			normalizedVector = (vectorScore + 1) / 2
		}
		if keywordScore, ok := keywordMap[chunkID]; ok && maxKeyword > 0 {
			normalizedKeyword = keywordScore / maxKeyword
		}

		scored = append(scored, scoredResult{
			chunkID: chunkID,
			score:   (normalizedVector * vectorWeight) + (normalizedKeyword * keywordWeight),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	docs := make([]Document, 0, len(scored))
	for _, sc := range scored {
		var content, path string
		err := s.db.QueryRow(`
			SELECT c.content, f.path
			FROM chunks c
			JOIN files f ON c.file_id = f.id
			WHERE c.id = ?
		`, sc.chunkID).Scan(&content, &path)
		if err != nil {
			s.logger.Warn().Err(err).Str("chunk_id", sc.chunkID).Msg("Failed to fetch chunk details")
			continue
		}

		docs = append(docs, Document{
			Title:   documentTitle(path),
			Path:    path,
			Content: content,
			Score:   sc.score,
		})
	}

	return docs
}

// documentTitle derives a display title from a document path.
func documentTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MarkDirty flags the index for resync on the next search.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.isDirty = true
	s.mu.Unlock()
}

// Status returns the current store status.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status Status
	status.IsDirty = s.isDirty
	status.IsSyncing = s.isSyncing
	status.LastSyncTime = s.lastSyncTime

	s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&status.TotalFiles)
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&status.TotalChunks)

	return status
}

// Close releases the watcher and database.
func (s *Store) Close() error {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop file watcher")
		}
	}
	return s.db.Close()
}
