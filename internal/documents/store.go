package documents

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/docent/internal/embeddings"
)

// Store persists documents in SQLite. Lifecycle transitions are single
// statements so concurrent promotion and sweeping never interleave
// inside one row change.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a document store on an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// WithClock replaces the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Timestamps are unix nanoseconds so that expiry comparisons happen in
// the database as integer comparisons.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding BLOB,
			source TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			group_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL DEFAULT 1,
			extra TEXT,
			is_temporary INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER,
			promoted_at INTEGER,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_group ON documents(group_id, chunk_index);
		CREATE INDEX IF NOT EXISTS idx_documents_expiry ON documents(is_temporary, expires_at);
		CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	`)
	return err
}

// InsertTemporary stores one temporary document that expires ttlHours
// from now.
func (s *Store) InsertTemporary(content string, embedding []float32, meta Metadata, ttlHours int) (*Document, error) {
	docs, err := s.InsertTemporaryGroup([]Draft{{Content: content, Embedding: embedding, Metadata: meta}}, ttlHours)
	if err != nil {
		return nil, err
	}
	return &docs[0], nil
}

// InsertPermanent stores one permanent document.
func (s *Store) InsertPermanent(content string, embedding []float32, meta Metadata) (*Document, error) {
	docs, err := s.InsertPermanentGroup([]Draft{{Content: content, Embedding: embedding, Metadata: meta}})
	if err != nil {
		return nil, err
	}
	return &docs[0], nil
}

// InsertTemporaryGroup stores drafts as temporary documents sharing one
// expiry, in a single transaction.
func (s *Store) InsertTemporaryGroup(drafts []Draft, ttlHours int) ([]Document, error) {
	if ttlHours <= 0 {
		return nil, fmt.Errorf("%w: got %d hours", ErrInvalidTTL, ttlHours)
	}
	now := s.Now()
	docs := make([]Document, len(drafts))
	for i, d := range drafts {
		doc, err := NewTemporary(d, now, time.Duration(ttlHours)*time.Hour)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, s.insert(docs)
}

// InsertPermanentGroup stores drafts as permanent documents in a single
// transaction.
func (s *Store) InsertPermanentGroup(drafts []Draft) ([]Document, error) {
	now := s.Now()
	docs := make([]Document, len(drafts))
	for i, d := range drafts {
		docs[i] = NewPermanent(d, now)
	}
	return docs, s.insert(docs)
}

func (s *Store) insert(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO documents (id, content, embedding, source, title, group_id,
			chunk_index, total_chunks, extra, is_temporary, expires_at, promoted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		extra, err := encodeExtra(d.Metadata.Extra)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(d.ID, d.Content, blobArg(d.Embedding),
			d.Metadata.Source, d.Metadata.Title, d.Metadata.DocumentGroupID,
			d.Metadata.ChunkIndex, d.Metadata.TotalChunks, extra,
			d.IsTemporary, nanos(d.ExpiresAt), nanos(d.PromotedAt), d.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SimilaritySearch scores every embedded document against query and
// returns those scoring at least opts.Threshold, best first, ties broken
// by newest creation time, at most opts.K of them. Documents whose
// embedding width differs from the query are skipped. Temporary
// documents past their expiry are never returned, even before the
// sweep deletes them.
func (s *Store) SimilaritySearch(query []float32, opts SearchOptions) ([]Result, error) {
	if len(query) == 0 {
		return nil, errors.New("similarity search requires a query embedding")
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}

	q := selectColumns + ` WHERE embedding IS NOT NULL
		AND (is_temporary = 0 OR expires_at >= ?)`
	if opts.PermanentOnly {
		q += ` AND is_temporary = 0`
	}

	rows, err := s.db.Query(q, s.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if len(doc.Embedding) != len(query) {
			continue
		}
		score := embeddings.CosineSimilarity(query, doc.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, Result{Document: *doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > opts.K {
		results = results[:opts.K]
	}
	return results, nil
}

// FindByGroup returns the chunks of a group ordered by chunk index. An
// unknown or fully swept group yields an empty slice.
func (s *Store) FindByGroup(groupID string) ([]Document, error) {
	if groupID == "" {
		return nil, nil
	}
	rows, err := s.db.Query(selectColumns+` WHERE group_id = ? ORDER BY chunk_index ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Get returns one document by id.
func (s *Store) Get(id string) (*Document, error) {
	rows, err := s.db.Query(selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	docs, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

// Promote makes the given temporary documents permanent: is_temporary
// becomes false, the expiry is cleared and all of them share one
// promotion timestamp. Ids that do not exist or are already permanent
// are skipped. It returns how many documents changed.
func (s *Store) Promote(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, s.Now().UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.Exec(`
		UPDATE documents SET is_temporary = 0, expires_at = NULL, promoted_at = ?
		WHERE is_temporary = 1 AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("promote: %w", err)
	}
	return res.RowsAffected()
}

// SweepExpired deletes temporary documents whose expiry is before now
// and returns how many were removed.
func (s *Store) SweepExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM documents WHERE is_temporary = 1 AND expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return res.RowsAffected()
}

// DeleteBySource removes every document ingested from source.
func (s *Store) DeleteBySource(source string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM documents WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	return res.RowsAffected()
}

// SetEmbedding assigns or replaces a document's embedding.
func (s *Store) SetEmbedding(id string, vec []float32) error {
	res, err := s.db.Exec(`UPDATE documents SET embedding = ? WHERE id = ?`, blobArg(vec), id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MissingEmbeddings returns documents that have no embedding yet.
func (s *Store) MissingEmbeddings(limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(selectColumns+` WHERE embedding IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Stats returns document counts.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(is_temporary), 0),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT NULLIF(group_id, ''))
		FROM documents
	`).Scan(&st.Total, &st.Temporary, &st.Embedded, &st.Groups)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	st.Permanent = st.Total - st.Temporary
	return st, nil
}

const selectColumns = `SELECT id, content, embedding, source, title, group_id,
	chunk_index, total_chunks, extra, is_temporary, expires_at, promoted_at, created_at
	FROM documents`

func scanAll(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(rows *sql.Rows) (*Document, error) {
	var (
		d          Document
		blob       []byte
		extra      sql.NullString
		expiresAt  sql.NullInt64
		promotedAt sql.NullInt64
		createdAt  int64
	)
	err := rows.Scan(&d.ID, &d.Content, &blob, &d.Metadata.Source, &d.Metadata.Title,
		&d.Metadata.DocumentGroupID, &d.Metadata.ChunkIndex, &d.Metadata.TotalChunks,
		&extra, &d.IsTemporary, &expiresAt, &promotedAt, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if d.Embedding, err = embeddings.Decode(blob); err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID, err)
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &d.Metadata.Extra); err != nil {
			return nil, fmt.Errorf("document %s: decode extra: %w", d.ID, err)
		}
	}
	d.ExpiresAt = fromNanos(expiresAt)
	d.PromotedAt = fromNanos(promotedAt)
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

func encodeExtra(extra map[string]string) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	return string(b), nil
}

// blobArg binds an empty vector as NULL rather than a zero-length blob.
func blobArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return embeddings.Encode(vec)
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
