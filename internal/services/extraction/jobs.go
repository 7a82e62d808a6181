package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/platform/id"
)

// Extractor 是一次提取的执行体。实现方从 db 读写证据库，
// runID 必须写进产出的每一行；log 用于向任务日志追加进度信息。
// 返回写入的条目数。收到 ctx 取消后应尽快返回 ctx.Err()。
type Extractor func(ctx context.Context, db *sql.DB, evidenceID int64, runID string, log func(string)) (int64, error)

// Job 是一次后台提取任务的可观测状态。
type Job struct {
	JobID      string `json:"job_id"`
	EvidenceID int64  `json:"evidence_id"`
	Label      string `json:"label"`
	Extractor  string `json:"extractor"`
	Status     string `json:"status"` // running|success|failed
	CreatedAt  int64  `json:"created_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`

	// Progress/Logs 是给界面"控制台"用的轻量字段，
	// 不追求精细进度，但至少能展示实时日志和完成度。
	Progress int      `json:"progress,omitempty"` // 0-100
	Logs     []LogLine `json:"logs,omitempty"`

	RunID         string `json:"run_id,omitempty"`
	ItemsInserted int64  `json:"items_inserted,omitempty"`
	Error         string `json:"error,omitempty"`
}

type LogLine struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

// 任务状态与 extraction_runs 的状态枚举保持一致。
const (
	StatusRunning = sqlite.RunStatusRunning
	StatusSuccess = sqlite.RunStatusSuccess
	StatusFailed  = sqlite.RunStatusFailed
)

// Manager 调度后台提取任务。每个任务独占一个连接会话，
// 任务间通过 SQLite 自身的锁互斥，不在进程内排队。
type Manager struct {
	store *sqlite.Manager

	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
}

func NewManager(store *sqlite.Manager) *Manager {
	return &Manager{
		store:   store,
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start 启动一个后台提取任务并立即返回其初始快照。
func (m *Manager) Start(evidenceID int64, label, extractorName string, fn Extractor) (Job, error) {
	if strings.TrimSpace(extractorName) == "" {
		return Job{}, fmt.Errorf("extractor name is required")
	}
	now := time.Now().Unix()
	job := &Job{
		JobID:      id.New("job"),
		EvidenceID: evidenceID,
		Label:      label,
		Extractor:  extractorName,
		Status:     StatusRunning,
		CreatedAt:  now,
		Progress:   1,
		Logs:       []LogLine{{Time: now, Message: "job created"}},
	}
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.cancels[job.JobID] = cancel
	snapshot := *job
	m.mu.Unlock()

	go m.run(ctx, job, fn)
	return snapshot, nil
}

func (m *Manager) run(ctx context.Context, job *Job, fn Extractor) {
	defer func() {
		m.mu.Lock()
		delete(m.cancels, job.JobID)
		m.mu.Unlock()
	}()

	// 带锁更新任务状态的内部辅助，后台协程只通过它写 job。
	update := func(progress int, msg string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if progress >= 0 {
			job.Progress = progress
		}
		if strings.TrimSpace(msg) != "" {
			job.Logs = append(job.Logs, LogLine{Time: time.Now().Unix(), Message: msg})
		}
	}
	fail := func(err error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		job.Status = StatusFailed
		job.Error = err.Error()
		job.FinishedAt = time.Now().Unix()
		job.Logs = append(job.Logs, LogLine{Time: time.Now().Unix(), Message: "job failed: " + err.Error()})
	}

	session := m.store.Session()
	defer session.Close()

	db, err := m.store.EvidenceConn(ctx, session, job.EvidenceID, job.Label)
	if err != nil {
		fail(fmt.Errorf("open evidence database: %w", err))
		return
	}

	runID, err := sqlite.StartRun(ctx, db, job.EvidenceID, job.Extractor)
	if err != nil {
		fail(fmt.Errorf("register run: %w", err))
		return
	}
	m.mu.Lock()
	job.RunID = runID
	m.mu.Unlock()
	update(5, "extraction starting: "+job.Extractor)

	items, extractErr := fn(ctx, db, job.EvidenceID, runID, func(msg string) {
		update(-1, msg)
	})

	// 运行登记的收尾不受任务取消影响，否则库里留下悬挂的 running 行。
	if err := sqlite.FinishRun(context.Background(), db, runID, items, extractErr); err != nil {
		update(-1, "record run result: "+err.Error())
	}

	if extractErr != nil {
		fail(extractErr)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = StatusSuccess
	job.ItemsInserted = items
	job.Progress = 100
	job.FinishedAt = time.Now().Unix()
	job.Logs = append(job.Logs, LogLine{Time: time.Now().Unix(),
		Message: fmt.Sprintf("job success: %d items", items)})
}

// Cancel 请求取消一个运行中的任务。任务以 failed 收尾，
// 错误里带上取消原因；已结束的任务返回 false。
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Get 返回任务快照。日志做深拷贝，解锁后的追加不会造成竞争。
func (m *Manager) Get(jobID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j == nil {
		return Job{}, false
	}
	return copyJob(j), true
}

// List 返回全部任务快照，按创建时间倒序。
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j == nil {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt > out[k].CreatedAt
		}
		return out[i].JobID < out[k].JobID
	})
	return out
}

// Wait 阻塞到任务离开 running 状态或超时，测试与 CLI 同步场景用。
func (m *Manager) Wait(jobID string, timeout time.Duration) (Job, bool) {
	deadline := time.Now().Add(timeout)
	for {
		job, ok := m.Get(jobID)
		if !ok {
			return Job{}, false
		}
		if job.Status != StatusRunning {
			return job, true
		}
		if time.Now().After(deadline) {
			return job, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func copyJob(j *Job) Job {
	cpy := *j
	if len(cpy.Logs) > 0 {
		tmp := make([]LogLine, len(cpy.Logs))
		copy(tmp, cpy.Logs)
		cpy.Logs = tmp
	}
	return cpy
}
