package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	spacebot "github.com/nevindra/spacebot"
)

// Task is a unit of tracked work, optionally owned by a worker.
type Task struct {
	ID            string
	Title         string
	Description   string
	Status        string // pending | in_progress | completed | failed | cancelled
	OwnerWorkerID string
	CreatedAt     int64
	UpdatedAt     int64
}

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(ctx context.Context, title, description string) (Task, error) {
	t := Task{
		ID:          spacebot.NewID(),
		Title:       title,
		Description: description,
		Status:      "pending",
		CreatedAt:   spacebot.NowUnix(),
		UpdatedAt:   spacebot.NowUnix(),
	}
	_, err := s.exec(ctx, `
		INSERT INTO tasks (id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Status, t.CreatedAt, t.UpdatedAt)
	return t, err
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status string) ([]Task, error) {
	q := `SELECT id, title, description, status, COALESCE(owner_worker_id, ''),
		created_at, updated_at FROM tasks`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status,
			&t.OwnerWorkerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimTask transitions a task to in_progress and records the owning
// worker. Fails when the task is already claimed by another worker.
func (s *Store) ClaimTask(ctx context.Context, id string, workerID string) error {
	res, err := s.exec(ctx, `
		UPDATE tasks SET status = 'in_progress', owner_worker_id = ?, updated_at = ?
		WHERE id = ? AND (owner_worker_id IS NULL OR owner_worker_id = '' OR owner_worker_id = ?)`,
		workerID, spacebot.NowUnix(), id, workerID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s is owned by another worker", id)
	}
	return nil
}

// UpdateTaskStatus transitions a task. A worker that owns a task has
// exclusive write access to transitions out of in_progress: if ownerID is
// non-empty it must match the recorded owner.
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status, ownerID string) error {
	var res sql.Result
	var err error
	if ownerID != "" {
		res, err = s.exec(ctx, `
			UPDATE tasks SET status = ?, updated_at = ?
			WHERE id = ? AND (status != 'in_progress' OR owner_worker_id = ?)`,
			status, spacebot.NowUnix(), id, ownerID)
	} else {
		res, err = s.exec(ctx, `
			UPDATE tasks SET status = ?, updated_at = ?
			WHERE id = ? AND status != 'in_progress'`,
			status, spacebot.NowUnix(), id)
	}
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found or in progress under another worker", id)
	}
	return nil
}

// --- worker runs ---

// WorkerRun records one worker execution for audit and transcript recall.
type WorkerRun struct {
	ID         string
	ChannelID  string
	Task       string
	Kind       string // "task" | "acp"
	Status     string // running | completed | failed | cancelled | timed_out
	Transcript string
	StartedAt  int64
	FinishedAt int64
}

// InsertWorkerRun records a starting worker.
func (s *Store) InsertWorkerRun(ctx context.Context, r WorkerRun) error {
	_, err := s.exec(ctx, `
		INSERT INTO worker_runs (id, channel_id, task, kind, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChannelID, r.Task, r.Kind, r.Status, r.StartedAt)
	return err
}

// FinishWorkerRun records a worker's terminal status and transcript.
func (s *Store) FinishWorkerRun(ctx context.Context, id, status, transcript string) error {
	_, err := s.exec(ctx, `
		UPDATE worker_runs SET status = ?, transcript = ?, finished_at = ?
		WHERE id = ?`,
		status, transcript, spacebot.NowUnix(), id)
	return err
}
