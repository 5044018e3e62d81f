package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"SwapPilot/internal/agent"
	"SwapPilot/internal/app"
	"SwapPilot/internal/config"
	"SwapPilot/pkg/logger"
	"SwapPilot/sdk/go/swappilot"
)

// Version 在构建时通过 -ldflags 注入。
var Version = "dev"

type globalOptions struct {
	configPath string
	url        string
	secret     string
	timeout    time.Duration
}

// NewRootCmd 创建 swapctl 根命令。
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "swapctl",
		Short:         "SwapPilot operator CLI",
		Long:          "swapctl runs SwapPilot jobs in-process, triggers them on a running daemon and manages agents.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.PathFromEnv(), "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.url, "url", envOr("SWAPPILOT_URL", "http://127.0.0.1:8080"), "Daemon base URL")
	rootCmd.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv("SWAPPILOT_CRON_SECRET"), "Trigger API bearer secret")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newTriggerCmd(opts))
	rootCmd.AddCommand(newJobsCmd(opts))
	rootCmd.AddCommand(newAgentCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newRunCmd 在当前进程内执行一次任务。
func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run JOB",
		Short: "Run a job once in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				result, err := a.Jobs.Run(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

// newTriggerCmd 通过触发接口在守护进程上执行任务。
func newTriggerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger JOB",
		Short: "Trigger a job on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := swappilot.NewClient(opts.url, opts.secret, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			raw, err := client.TriggerRaw(ctx, args[0])
			if err != nil {
				return err
			}
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newJobsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs registered on a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := swappilot.NewClient(opts.url, opts.secret, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			names, err := client.ListJobs(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// newAgentCmd 管理 agent 生命周期。
func newAgentCmd(opts *globalOptions) *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage trading agents",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				agents, err := a.Agents.Store().List(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), agents)
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of agents")

	var file string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("读取 agent 文件失败: %w", err)
			}
			var ag agent.Agent
			if err := json.Unmarshal(data, &ag); err != nil {
				return fmt.Errorf("解析 agent 文件失败: %w", err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Agents.Store().Create(ctx, &ag); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), &ag)
			})
		},
	}
	createCmd.Flags().StringVarP(&file, "file", "f", "", "Agent definition (JSON)")
	_ = createCmd.MarkFlagRequired("file")

	fundCmd := &cobra.Command{
		Use:   "fund AGENT_ID AMOUNT",
		Short: "Add budget to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("金额格式错误: %w", err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				updated, err := a.Agents.Fund(ctx, args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}

	var reason string
	applyCmd := &cobra.Command{
		Use:   "apply AGENT_ID ACTION",
		Short: "Apply a lifecycle action (activate, pause, resume, stop)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := agent.ParseAction(args[1])
			if !ok {
				return fmt.Errorf("未知的操作: %s", args[1])
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				updated, err := a.Agents.Apply(ctx, args[0], action, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
	applyCmd.Flags().StringVar(&reason, "reason", "operator", "Reason recorded in the audit log")

	agentCmd.AddCommand(listCmd, createCmd, fundCmd, applyCmd)
	return agentCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "swapctl %s\n", Version)
		},
	}
}

// withApp 加载配置并装配组件，日志输出到 stderr 以免污染 JSON 输出。
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
