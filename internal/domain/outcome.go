package domain

import (
	"sort"
	"sync"
)

// Outcome 是单条记录在一次运行中的状态：Pending → Added | Updated | Skipped | Failed。
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeAdded   Outcome = "added"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Terminal 判断状态是否已经结束。
func (o Outcome) Terminal() bool {
	return o != OutcomePending && o != ""
}

// Report 记录一次批处理中每条记录的最终状态。
type Report struct {
	Job   string
	RunID string

	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewReport 创建运行报告。
func NewReport(job, runID string) *Report {
	return &Report{Job: job, RunID: runID, outcomes: map[string]Outcome{}}
}

// Pending 登记待处理记录。
func (r *Report) Pending(key string) {
	r.Mark(key, OutcomePending)
}

// Mark 设置记录状态；已进入终态的记录不再被覆盖，Failed 除外。
func (r *Report) Mark(key string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]Outcome{}
	}
	prev, ok := r.outcomes[key]
	if ok && prev.Terminal() && o != OutcomeFailed {
		return
	}
	r.outcomes[key] = o
}

// Outcome 返回记录状态，未登记时为空串。
func (r *Report) Outcome(key string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[key]
}

// Count 统计某一状态的记录数。
func (r *Report) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.outcomes {
		if v == o {
			n++
		}
	}
	return n
}

// Keys 返回处于某一状态的记录 key（升序）。
func (r *Report) Keys(o Outcome) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for k, v := range r.outcomes {
		if v == o {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Total 返回登记的记录总数。
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}
