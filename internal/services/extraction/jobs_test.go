package extraction

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/domain/model"
)

func newTestStore(t *testing.T) *sqlite.Manager {
	t.Helper()
	folder := t.TempDir()
	m, err := sqlite.NewManager(folder, sqlite.CaseDBPathFor(folder, "CASE-J"), true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.CloseAll() })
	return m
}

func TestJobSuccess(t *testing.T) {
	store := newTestStore(t)
	jobs := NewManager(store)

	extractor := func(ctx context.Context, db *sql.DB, evidenceID int64, runID string, log func(string)) (int64, error) {
		log("parsing history")
		return sqlite.InsertHistory(ctx, db, evidenceID, []model.HistoryRecord{
			{URL: "https://example.com/", TsUTC: "2024-03-01T10:00:00Z", Browser: "chrome",
				Provenance: model.Provenance{DiscoveredBy: "chrome_history", RunID: runID}},
		})
	}
	started, err := jobs.Start(1, "Disk A", "chrome_history", extractor)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != StatusRunning {
		t.Fatalf("initial status = %q", started.Status)
	}

	job, done := jobs.Wait(started.JobID, 5*time.Second)
	if !done {
		t.Fatalf("job did not finish: %+v", job)
	}
	if job.Status != StatusSuccess || job.ItemsInserted != 1 || job.Progress != 100 {
		t.Fatalf("job = %+v", job)
	}
	if job.RunID == "" {
		t.Fatal("job has no run id")
	}
	if len(job.Logs) < 3 {
		t.Fatalf("logs = %+v", job.Logs)
	}

	// 运行登记与任务结果一致。
	ctx := context.Background()
	s := store.Session()
	defer s.Close()
	db, err := store.EvidenceConn(ctx, s, 1, "Disk A")
	if err != nil {
		t.Fatal(err)
	}
	run, err := sqlite.GetRun(ctx, db, job.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.Status != sqlite.RunStatusSuccess || run.ItemsInserted != 1 {
		t.Fatalf("run = %+v", run)
	}
}

func TestJobFailureRecordsError(t *testing.T) {
	store := newTestStore(t)
	jobs := NewManager(store)

	boom := errors.New("parse failed: truncated file")
	extractor := func(ctx context.Context, db *sql.DB, evidenceID int64, runID string, log func(string)) (int64, error) {
		return 0, boom
	}
	started, err := jobs.Start(1, "Disk A", "broken_extractor", extractor)
	if err != nil {
		t.Fatal(err)
	}
	job, done := jobs.Wait(started.JobID, 5*time.Second)
	if !done {
		t.Fatalf("job did not finish: %+v", job)
	}
	if job.Status != StatusFailed || job.Error != boom.Error() {
		t.Fatalf("job = %+v", job)
	}

	// 失败也要在 extraction_runs 里留痕。
	ctx := context.Background()
	s := store.Session()
	defer s.Close()
	db, err := store.EvidenceConn(ctx, s, 1, "Disk A")
	if err != nil {
		t.Fatal(err)
	}
	run, err := sqlite.GetRun(ctx, db, job.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.Status != sqlite.RunStatusFailed || run.Error != boom.Error() {
		t.Fatalf("run = %+v", run)
	}
}

func TestJobCancel(t *testing.T) {
	store := newTestStore(t)
	jobs := NewManager(store)

	blocked := make(chan struct{})
	extractor := func(ctx context.Context, db *sql.DB, evidenceID int64, runID string, log func(string)) (int64, error) {
		close(blocked)
		<-ctx.Done()
		return 0, ctx.Err()
	}
	started, err := jobs.Start(1, "Disk A", "slow_extractor", extractor)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("extractor never started")
	}

	if !jobs.Cancel(started.JobID) {
		t.Fatal("Cancel returned false for running job")
	}
	job, done := jobs.Wait(started.JobID, 5*time.Second)
	if !done {
		t.Fatalf("job did not finish after cancel: %+v", job)
	}
	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}

	// 已结束的任务不能再取消。
	if jobs.Cancel(started.JobID) {
		t.Fatal("Cancel succeeded on finished job")
	}
}

func TestJobList(t *testing.T) {
	store := newTestStore(t)
	jobs := NewManager(store)

	noop := func(ctx context.Context, db *sql.DB, evidenceID int64, runID string, log func(string)) (int64, error) {
		return 0, nil
	}
	a, err := jobs.Start(1, "Disk A", "noop_a", noop)
	if err != nil {
		t.Fatal(err)
	}
	b, err := jobs.Start(1, "Disk A", "noop_b", noop)
	if err != nil {
		t.Fatal(err)
	}
	jobs.Wait(a.JobID, 5*time.Second)
	jobs.Wait(b.JobID, 5*time.Second)

	list := jobs.List()
	if len(list) != 2 {
		t.Fatalf("list = %d jobs", len(list))
	}
	if _, ok := jobs.Get("job_missing"); ok {
		t.Fatal("Get returned a job for unknown id")
	}
}
