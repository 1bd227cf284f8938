package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	spacebot "github.com/nevindra/spacebot"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIsIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

// --- ingestion progress (P5) ---

func TestRecordChunkCompletedIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RecordChunkCompleted(ctx, "hash-1", 4, 10, "doc.txt"); err != nil {
			t.Fatalf("record attempt %d: %v", i, err)
		}
	}

	done, err := s.CompletedChunks(ctx, "hash-1")
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if len(done) != 1 || !done[4] {
		t.Errorf("expected exactly chunk 4 recorded once, got %v", done)
	}
}

func TestProgressScopedByHash(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordChunkCompleted(ctx, "hash-a", 0, 2, "a.txt")
	s.RecordChunkCompleted(ctx, "hash-b", 1, 2, "b.txt")

	doneA, _ := s.CompletedChunks(ctx, "hash-a")
	if len(doneA) != 1 || !doneA[0] {
		t.Errorf("hash-a progress wrong: %v", doneA)
	}

	if err := s.DeleteProgress(ctx, "hash-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doneA, _ = s.CompletedChunks(ctx, "hash-a")
	doneB, _ := s.CompletedChunks(ctx, "hash-b")
	if len(doneA) != 0 {
		t.Error("hash-a progress should be gone")
	}
	if len(doneB) != 1 {
		t.Error("hash-b progress should survive")
	}
}

// --- tasks ---

func TestTaskClaimIsExclusive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "deploy", "ship it")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.ClaimTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimTask(ctx, task.ID, "worker-2"); err == nil {
		t.Error("second worker must not claim an owned task")
	}
	// The owner may re-claim (idempotent for its own id).
	if err := s.ClaimTask(ctx, task.ID, "worker-1"); err != nil {
		t.Errorf("owner re-claim: %v", err)
	}
}

func TestTaskStatusTransitionOwnership(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "deploy", "")
	s.ClaimTask(ctx, task.ID, "worker-1")

	// A non-owner cannot move it out of in_progress.
	if err := s.UpdateTaskStatus(ctx, task.ID, "completed", "worker-2"); err == nil {
		t.Error("non-owner transition should fail")
	}
	if err := s.UpdateTaskStatus(ctx, task.ID, "completed", "worker-1"); err != nil {
		t.Errorf("owner transition failed: %v", err)
	}

	tasks, _ := s.ListTasks(ctx, "completed")
	if len(tasks) != 1 {
		t.Errorf("expected 1 completed task, got %d", len(tasks))
	}
}

// --- cron persistence ---

func TestCronJobRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	nine, seventeen := 9, 17
	job := CronJob{
		ID: "daily", Prompt: "report", IntervalSecs: 3600,
		DeliveryTarget: "discord:123", ActiveStart: &nine, ActiveEnd: &seventeen,
		Enabled: true, TimeoutSecs: 60,
	}
	if err := s.UpsertCronJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	jobs, err := s.LoadCronJobs(ctx, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.ID != "daily" || got.IntervalSecs != 3600 || got.TimeoutSecs != 60 {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.ActiveStart == nil || *got.ActiveStart != 9 || *got.ActiveEnd != 17 {
		t.Errorf("active hours lost: %+v", got)
	}

	if err := s.UpdateCronEnabled(ctx, "daily", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	enabled, _ := s.LoadCronJobs(ctx, true)
	if len(enabled) != 0 {
		t.Error("disabled job should not load with onlyEnabled")
	}
	all, _ := s.LoadCronJobs(ctx, false)
	if len(all) != 1 {
		t.Error("disabled job should still exist")
	}
}

// --- memories ---

func TestMemorySearchRanksBySimilarity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insert := func(id, content string, emb []float32) {
		if err := s.InsertMemory(ctx, Memory{
			ID: id, Content: content, Embedding: emb, CreatedAt: spacebot.NowUnix(),
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("m1", "likes coffee", []float32{1, 0, 0})
	insert("m2", "likes tea", []float32{0, 1, 0})
	insert("m3", "likes espresso", []float32{0.9, 0.1, 0})

	results, err := s.SearchMemories(ctx, []float32{1, 0, 0}, 2, 0.1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "m1" || results[1].ID != "m3" {
		t.Errorf("wrong ranking: %s, %s", results[0].ID, results[1].ID)
	}
}

func TestDeleteMemoryRemovesAssociations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.InsertMemory(ctx, Memory{ID: "a", Content: "x", CreatedAt: 1})
	s.InsertMemory(ctx, Memory{ID: "b", Content: "y", CreatedAt: 2})
	s.AssociateMemories(ctx, "a", "b", 0.9)

	if err := s.DeleteMemory(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recent, _ := s.RecentMemories(ctx, 10)
	if len(recent) != 1 || recent[0].ID != "b" {
		t.Errorf("expected only b to survive, got %+v", recent)
	}
}

// --- settings KV ---

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if v, err := s.GetSetting(ctx, "missing"); err != nil || v != "" {
		t.Errorf("missing key: %q, %v", v, err)
	}
	s.SetSetting(ctx, "mode", "quiet")
	s.SetSetting(ctx, "mode", "loud")
	if v, _ := s.GetSetting(ctx, "mode"); v != "loud" {
		t.Errorf("expected loud, got %q", v)
	}
}

// --- archives ---

func TestArchiveSearchScopedToChannel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.InsertArchive(ctx, "chan-1", "we discussed the roadmap")
	s.InsertArchive(ctx, "chan-2", "roadmap talk elsewhere")

	hits, err := s.SearchArchives(ctx, "chan-1", "roadmap", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit in chan-1, got %d", len(hits))
	}
}
