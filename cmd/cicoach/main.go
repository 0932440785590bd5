// CI Coach 主入口
//
// 使用方法:
//
//	cicoach chat                          # 终端对话
//	cicoach chat --transcript out.json    # 退出时保存会话状态
//	cicoach serve --config config.yaml    # 启动 HTTP / WebSocket 服务
//	cicoach migrate up                    # 运行数据库迁移
//	cicoach health --addr http://localhost:8080
//	cicoach version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 版本信息（构建时通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "cicoach",
		Short: "Unified Continuous Improvement Coach",
		Long: `cicoach guides a continuous improvement project through problem framing,
process mapping, SIPOC, root cause analysis, A3 and kaizen planning.

A supervisor model routes every message to the coach best suited to answer it.
Run "cicoach chat" for an interactive session or "cicoach serve" for the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newChatCmd(flags),
		newServeCmd(flags),
		newMigrateCmd(flags),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cicoach %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
