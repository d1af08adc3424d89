package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wildsync/internal/app"
	"wildsync/internal/server"
	"wildsync/ioc"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wildsync",
		Short:         "野生动物调查数据同步工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", ioc.DefaultConfigPath, "配置文件路径")

	short := map[string]string{
		app.JobAppend:   "把源图层的新记录及附件追加到目标图层",
		app.JobRename:   "把附件改为规范名并同步照片字段",
		app.JobRollup:   "把子表最新状态汇总到父图层",
		app.JobBackup:   "备份照片并导出 GeoJSON 快照",
		app.JobFormSync: "把表单提交同步到图层",
		app.JobMigrate:  "把旧格式命名的快照改为规范名",
	}
	for _, job := range []string{app.JobAppend, app.JobRename, app.JobRollup, app.JobBackup, app.JobFormSync, app.JobMigrate} {
		cmd.AddCommand(newJobCommand(opts, job, short[job]))
	}
	cmd.AddCommand(newRestoreCommand(opts))
	cmd.AddCommand(newDaemonCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	return cmd
}

// withDaemon 装配依赖并在 SIGINT/SIGTERM 时取消 ctx。
func withDaemon(opts *rootOptions, fn func(ctx context.Context, d *server.Daemon) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := InitDaemon(ctx, ioc.ConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	defer cleanup()
	defer d.Shutdown(context.Background())
	return fn(ctx, d)
}

func newJobCommand(opts *rootOptions, job, short string) *cobra.Command {
	return &cobra.Command{
		Use:   job,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(opts, func(ctx context.Context, d *server.Daemon) error {
				if err := d.RunOnce(ctx, job); err != nil {
					return fmt.Errorf("%s 执行失败: %w", job, err)
				}
				return nil
			})
		},
	}
}

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	var truncate bool
	cmd := &cobra.Command{
		Use:   app.JobRestore,
		Short: "从最新快照恢复图层并重新挂载照片",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(opts, func(ctx context.Context, d *server.Daemon) error {
				if _, err := d.Service.Restore(ctx, truncate); err != nil {
					return fmt.Errorf("restore 执行失败: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&truncate, "truncate", false, "恢复前清空目标图层（不可撤销）")
	return cmd
}

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "按配置中的 cron 常驻调度作业",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(opts, func(ctx context.Context, d *server.Daemon) error {
				return d.Run(ctx)
			})
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [job...]",
		Short: "检查配置是否满足作业需要",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ioc.InitConfig(ioc.ConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			jobs := args
			if len(jobs) == 0 {
				jobs = append(append([]string{}, app.Jobs...), app.JobRestore, app.JobMigrate)
			}
			failed := 0
			for _, job := range jobs {
				if err := cfg.Validate(job); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s FAIL %v\n", job, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s ok\n", job)
			}
			if failed > 0 {
				return fmt.Errorf("%d 个作业配置不完整", failed)
			}
			return nil
		},
	}
}
