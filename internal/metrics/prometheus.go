package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"wildsync/internal/domain"
)

// Recorder 收集单次批处理的指标，批处理结束后推送到 Pushgateway。
type Recorder struct {
	registry *prometheus.Registry
	pushURL  string

	Records     *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	LastSuccess *prometheus.GaugeVec
}

// NewRecorder 创建使用独立 registry 的 Recorder；pushURL 为空时 Push 不做任何事。
func NewRecorder(pushURL string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pushURL:  strings.TrimSpace(pushURL),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildsync_records_total",
			Help: "按作业与结果统计的记录数",
		}, []string{"flow", "outcome"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildsync_runs_total",
			Help: "按作业与状态统计的运行次数",
		}, []string{"flow", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildsync_run_duration_seconds",
			Help:    "单次作业耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wildsync_last_success_timestamp_seconds",
			Help: "作业最近一次成功的时间",
		}, []string{"flow"}),
	}
	r.registry.MustRegister(r.Records, r.Runs, r.Duration, r.LastSuccess)
	return r
}

// Registry 返回内部 registry。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveReport 按结果累加记录数。
func (r *Recorder) ObserveReport(rep *domain.Report) {
	if r == nil || rep == nil {
		return
	}
	for _, o := range []domain.Outcome{domain.OutcomeAdded, domain.OutcomeUpdated, domain.OutcomeSkipped, domain.OutcomeFailed, domain.OutcomePending} {
		if n := rep.Count(o); n > 0 {
			r.Records.WithLabelValues(rep.Job, string(o)).Add(float64(n))
		}
	}
}

// ObserveRun 记录一次运行的耗时与状态；“没有新数据”按成功计。
func (r *Recorder) ObserveRun(job string, elapsed time.Duration, err error, now time.Time) {
	if r == nil {
		return
	}
	if errors.Is(err, domain.ErrNoNewRecords) {
		err = nil
	}
	status := "success"
	switch {
	case err == nil:
	case domain.Classify(err) == domain.ResultTransient:
		status = "transient_error"
	default:
		status = "error"
	}
	r.Runs.WithLabelValues(job, status).Inc()
	r.Duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err == nil {
		r.LastSuccess.WithLabelValues(job).Set(float64(now.Unix()))
	}
}

// Push 把 registry 推送到 Pushgateway，分组键 batch 为作业名。
func (r *Recorder) Push(ctx context.Context, job string) error {
	if r == nil || r.pushURL == "" {
		return nil
	}
	pusher := push.New(r.pushURL, "wildsync").
		Gatherer(r.registry).
		Grouping("batch", job)
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("推送指标失败: %w", err)
	}
	return nil
}
