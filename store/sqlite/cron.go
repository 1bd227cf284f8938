package sqlite

import (
	"context"
	"database/sql"

	spacebot "github.com/nevindra/spacebot"
)

// CronJob is the stored form of a recurring job.
type CronJob struct {
	ID                  string
	Prompt              string
	IntervalSecs        int
	DeliveryTarget      string
	ActiveStart         *int // wall-clock hour, nil = always active
	ActiveEnd           *int
	Enabled             bool
	RunOnce             bool
	ConsecutiveFailures int
	TimeoutSecs         int // 0 = default
}

// UpsertCronJob inserts or updates a job definition. Failure counters are
// preserved on update.
func (s *Store) UpsertCronJob(ctx context.Context, j CronJob) error {
	_, err := s.exec(ctx, `
		INSERT INTO cron_jobs (id, prompt, interval_secs, delivery_target,
			active_start, active_end, enabled, run_once, consecutive_failures,
			timeout_secs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			interval_secs = excluded.interval_secs,
			delivery_target = excluded.delivery_target,
			active_start = excluded.active_start,
			active_end = excluded.active_end,
			enabled = excluded.enabled,
			run_once = excluded.run_once,
			timeout_secs = excluded.timeout_secs`,
		j.ID, j.Prompt, j.IntervalSecs, j.DeliveryTarget,
		j.ActiveStart, j.ActiveEnd, j.Enabled, j.RunOnce,
		nullableInt(j.TimeoutSecs), spacebot.NowUnix())
	return err
}

// LoadCronJobs returns jobs, optionally only enabled ones.
func (s *Store) LoadCronJobs(ctx context.Context, onlyEnabled bool) ([]CronJob, error) {
	q := `SELECT id, prompt, interval_secs, delivery_target, active_start,
		active_end, enabled, run_once, consecutive_failures, timeout_secs
		FROM cron_jobs`
	if onlyEnabled {
		q += ` WHERE enabled = 1`
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []CronJob
	for rows.Next() {
		var j CronJob
		var timeout sql.NullInt64
		var start, end sql.NullInt64
		if err := rows.Scan(&j.ID, &j.Prompt, &j.IntervalSecs, &j.DeliveryTarget,
			&start, &end, &j.Enabled, &j.RunOnce, &j.ConsecutiveFailures, &timeout); err != nil {
			return nil, err
		}
		if start.Valid && end.Valid {
			a, b := int(start.Int64), int(end.Int64)
			j.ActiveStart, j.ActiveEnd = &a, &b
		}
		if timeout.Valid {
			j.TimeoutSecs = int(timeout.Int64)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateCronEnabled persists the enabled flag.
func (s *Store) UpdateCronEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.exec(ctx, `UPDATE cron_jobs SET enabled = ? WHERE id = ?`, enabled, id)
	return err
}

// UpdateCronFailures persists the consecutive failure counter.
func (s *Store) UpdateCronFailures(ctx context.Context, id string, n int) error {
	_, err := s.exec(ctx, `UPDATE cron_jobs SET consecutive_failures = ? WHERE id = ?`, n, id)
	return err
}

// DeleteCronJob removes a job and its execution log.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM cron_executions WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := s.exec(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	return err
}

// LogCronExecution appends one execution record.
func (s *Store) LogCronExecution(ctx context.Context, jobID string, succeeded bool, summary string) error {
	_, err := s.exec(ctx, `
		INSERT INTO cron_executions (job_id, succeeded, summary, executed_at)
		VALUES (?, ?, ?, ?)`,
		jobID, succeeded, summary, spacebot.NowUnix())
	return err
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
