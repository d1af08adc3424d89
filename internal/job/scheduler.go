package job

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"wildsync/internal/app"
)

// RunFunc 执行一个命名作业。
type RunFunc func(ctx context.Context, job string) error

// Scheduler 按 cron 表达式调度多个作业。任一时刻只执行一个作业，其余作业排队等待；
// 同一作业已在执行或排队时跳过本次调度。
type Scheduler struct {
	specs      map[string]string
	runOnStart bool
	run        RunFunc
	logger     *zap.Logger
	cron       *cron.Cron
	parent     context.Context

	// exec 保证作业串行执行
	exec sync.Mutex

	mu      sync.Mutex
	running map[string]bool
	entries map[string]cron.EntryID
}

// NewScheduler 根据配置构建调度器，只调度配置了 cron 的作业。
func NewScheduler(cfg app.Config, run RunFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	specs := make(map[string]string, len(cfg.Schedule.Crons))
	for name, spec := range cfg.Schedule.Crons {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		specs[name] = spec
	}
	return &Scheduler{
		specs:      specs,
		runOnStart: cfg.Schedule.RunOnStart,
		run:        run,
		logger:     logger,
		running:    map[string]bool{},
		entries:    map[string]cron.EntryID{},
	}
}

// Jobs 返回已配置调度的作业名（升序）。
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start 启动调度器，返回用于停止任务的函数。表达式非法的作业只记录日志不调度。
func (s *Scheduler) Start(parent context.Context) context.CancelFunc {
	if s == nil {
		return func() {}
	}
	s.parent = parent
	c := cron.New()
	for _, name := range s.Jobs() {
		name := name
		spec := s.specs[name]
		id, err := c.AddFunc(spec, func() { s.runOnce(name) })
		if err != nil {
			s.logger.Error("failed to register cron job", zap.String("job", name), zap.String("cron", spec), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
	}
	if _, err := c.AddFunc("@hourly", s.heartbeat); err != nil {
		s.logger.Error("failed to register heartbeat", zap.Error(err))
	}
	s.cron = c
	c.Start()
	s.heartbeat()

	if s.runOnStart {
		go func() {
			for _, name := range s.Jobs() {
				s.runOnce(name)
			}
		}()
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			ctx := s.cron.Stop()
			<-ctx.Done()
			s.logger.Info("job scheduler stopped")
		})
	}

	go func() {
		<-parent.Done()
		stop()
	}()

	return stop
}

// heartbeat 输出各作业的下次执行时间。
func (s *Scheduler) heartbeat() {
	if s.cron == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		s.logger.Info("job scheduled",
			zap.String("job", name),
			zap.String("cron", s.specs[name]),
			zap.Bool("running", s.running[name]),
			zap.Time("next", entry.Next))
	}
}

func (s *Scheduler) runOnce(name string) {
	if s.run == nil {
		s.logger.Warn("run function not configured", zap.String("job", name))
		return
	}
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress or queued, skip current schedule", zap.String("job", name))
		return
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	s.exec.Lock()
	defer s.exec.Unlock()

	runCtx := context.Background()
	if s.parent != nil {
		select {
		case <-s.parent.Done():
			s.logger.Info("scheduler context cancelled, skip run", zap.String("job", name))
			return
		default:
		}
		runCtx = s.parent
	}
	start := time.Now()
	err := s.run(runCtx, name)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", name), zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job completed", zap.String("job", name), zap.Duration("duration", elapsed))
}
