package sqlite

import (
	"context"

	spacebot "github.com/nevindra/spacebot"
)

// CompletedChunks returns the set of chunk indices already completed for a
// content hash.
func (s *Store) CompletedChunks(ctx context.Context, hash string) (map[int]bool, error) {
	rows, err := s.query(ctx,
		`SELECT chunk_index FROM ingestion_progress WHERE content_hash = ?`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		done[idx] = true
	}
	return done, rows.Err()
}

// RecordChunkCompleted marks one chunk done. INSERT OR IGNORE on the
// composite key makes this idempotent — a chunk is completed exactly once
// no matter how many times the call lands.
func (s *Store) RecordChunkCompleted(ctx context.Context, hash string, chunkIndex, totalChunks int, filename string) error {
	_, err := s.exec(ctx, `
		INSERT OR IGNORE INTO ingestion_progress (content_hash, chunk_index, total_chunks, filename)
		VALUES (?, ?, ?, ?)`,
		hash, chunkIndex, totalChunks, filename)
	return err
}

// DeleteProgress removes all progress rows for a content hash after the
// file is fully processed.
func (s *Store) DeleteProgress(ctx context.Context, hash string) error {
	_, err := s.exec(ctx, `DELETE FROM ingestion_progress WHERE content_hash = ?`, hash)
	return err
}

// UpsertIngestionFile records that a file is being processed. Re-running
// after a restart updates chunk info and flips the status back to
// processing.
func (s *Store) UpsertIngestionFile(ctx context.Context, hash, filename string, fileSize int64, totalChunks int) error {
	_, err := s.exec(ctx, `
		INSERT INTO ingestion_files (content_hash, filename, file_size, total_chunks, status)
		VALUES (?, ?, ?, ?, 'processing')
		ON CONFLICT(content_hash) DO UPDATE SET
			total_chunks = excluded.total_chunks,
			status = 'processing'`,
		hash, filename, fileSize, totalChunks)
	return err
}

// CompleteIngestionFile marks a file completed or failed.
func (s *Store) CompleteIngestionFile(ctx context.Context, hash, status string) error {
	_, err := s.exec(ctx, `
		UPDATE ingestion_files SET status = ?, completed_at = ? WHERE content_hash = ?`,
		status, spacebot.NowUnix(), hash)
	return err
}
