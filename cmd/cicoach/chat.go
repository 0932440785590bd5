package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/session"
)

const (
	bannerReady = "Unified CI Coach ready. Paste CSV data inside triple backticks to load datasets."
	bannerHelp  = "Type :reset to start over, :state to export current state, or :quit to exit."
	resetReply  = "Session reset. How can I help next?"
	endedLine   = "Session ended."
)

var (
	coachLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	promptStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
)

type chatFlags struct {
	transcript string
	sessionID  string
	plain      bool
}

func newChatCmd(global *globalFlags) *cobra.Command {
	cf := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive coaching session in the terminal",
		Long: `Starts a conversation with the CI Coach.

Paste CSV data inside triple backticks to load a dataset, then ask for a chart.
With --session the conversation is loaded from and saved to the configured
session store after every turn.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, global, cf)
		},
	}
	cmd.Flags().StringVar(&cf.transcript, "transcript", "", "Save the final session state as JSON to this path")
	cmd.Flags().StringVar(&cf.sessionID, "session", "", "Resume and persist this session ID")
	cmd.Flags().BoolVar(&cf.plain, "plain", false, "Print replies without markdown rendering")
	return cmd
}

func runChat(cmd *cobra.Command, global *globalFlags, cf *chatFlags) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	// 日志写到 stderr，避免与对话输出交错
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.Format = "console"
	if global.logLevel == "" {
		cfg.Log.Level = "warn"
	}
	logger, _ := newLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c, err := coach.New(provider, coachOptions(cfg, logger, nil)...)
	if err != nil {
		return err
	}

	r := &repl{
		coach:      c,
		in:         cmd.InOrStdin(),
		out:        cmd.OutOrStdout(),
		render:     newRenderer(cf.plain, logger),
		logger:     logger,
		sessionID:  cf.sessionID,
		transcript: cf.transcript,
	}

	if cf.sessionID != "" {
		if err := session.ValidateID(cf.sessionID); err != nil {
			return err
		}
		store, err := session.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()
		r.store = store
		if err := c.Load(ctx, store, cf.sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("load session %s: %w", cf.sessionID, err)
		}
	}

	return r.run(ctx)
}

// newRenderer 返回 markdown 渲染函数；渲染器不可用时原样输出
func newRenderer(plain bool, logger *zap.Logger) func(string) string {
	if plain {
		return strings.TrimSpace
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		logger.Debug("markdown renderer unavailable", zap.Error(err))
		return strings.TrimSpace
	}
	return func(text string) string {
		out, err := tr.Render(text)
		if err != nil {
			return strings.TrimSpace(text)
		}
		return strings.Trim(out, "\n")
	}
}

// repl 终端对话循环
type repl struct {
	coach      *coach.Coach
	in         io.Reader
	out        io.Writer
	render     func(string) string
	logger     *zap.Logger
	store      session.Store
	sessionID  string
	transcript string
}

// run 读取输入直到 :quit、EOF 或 ctx 取消，最后按需写出 transcript
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, mutedStyle.Render(bannerReady))
	fmt.Fprintln(r.out, mutedStyle.Render(bannerHelp))
	fmt.Fprintln(r.out)

	// 退出时停止读取 goroutine
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := r.readLines(readCtx)
loop:
	for {
		fmt.Fprint(r.out, promptStyle.Render("You:")+" ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\n"+endedLine)
			break loop
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out, "\n"+endedLine)
				break loop
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case ":quit", ":exit":
			break loop
		case ":reset":
			r.coach.Reset()
			r.persist(ctx)
			fmt.Fprintln(r.out, coachLabelStyle.Render("Coach:")+" "+resetReply)
			continue
		case ":state":
			data, err := json.MarshalIndent(r.coach.ExportState(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(r.out, string(data))
			continue
		}

		reply, err := r.coach.Send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(r.out, "\n"+endedLine)
				break loop
			}
			r.logger.Debug("turn failed", zap.Error(err))
			fmt.Fprintln(r.out, errorStyle.Render("Coach: something went wrong: "+err.Error()))
			fmt.Fprintln(r.out)
			continue
		}
		r.persist(ctx)
		fmt.Fprintln(r.out, coachLabelStyle.Render("Coach:")+" "+r.render(reply))
		fmt.Fprintln(r.out)
	}

	return r.writeTranscript()
}

// readLines 在后台逐行读取输入，EOF 时关闭 channel
func (r *repl) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (r *repl) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.coach.Save(ctx, r.store, r.sessionID); err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("Failed to save session: "+err.Error()))
	}
}

func (r *repl) writeTranscript() error {
	if r.transcript == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.coach.ExportState(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.transcript, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	fmt.Fprintf(r.out, "Transcript saved to %s\n", r.transcript)
	return nil
}
