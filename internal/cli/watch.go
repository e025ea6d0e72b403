package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/engine"
	"github.com/roach88/inbox/internal/notify"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
	Open        string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep conversations in sync until interrupted",
		Long: `Poll the backend on the configured interval and print the conversation
list whenever it changes. Updates (sent messages, started conversations,
read marks) are printed as they happen and published to Redis when
configured.

With --open the given conversation is selected, so its thread is polled too.
With --metrics-addr an admin server exposes /metrics, /healthz and /readyz.

Examples:
  inbox watch
  inbox watch --open C1 --metrics-addr :9090
  inbox watch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "admin server address (overrides metrics_addr)")
	cmd.Flags().StringVar(&opts.Open, "open", "", "conversation to keep open")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions, online)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	receivers := notify.Multi{s.bus}
	if s.redis != nil {
		receivers = append(receivers, s.redis)
	}

	p := &watchPrinter{out: cmd.OutOrStdout(), json: opts.Format == "json", userID: s.cfg.UserID}
	eng := s.newEngine(
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithNotifier(receivers),
		engine.WithObserver(p.observe),
	)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.MetricsAddr
	}
	if addr != "" {
		shutdown := startAdminServer(addr, newAdminHandler(reg, eng.Ready()), s.logger)
		defer shutdown()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	if opts.Open != "" {
		go selectWhenReady(ctx, eng, opts.Open, s.logger)
	}

	for {
		select {
		case u, ok := <-s.updates:
			if !ok {
				s.updates = nil
				continue
			}
			p.update(u)
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return WrapExitError(ExitFailure, "engine error", err)
			}
			s.logger.Info("engine stopped gracefully")
			return nil
		}
	}
}

// selectWhenReady opens conversationID once the first listing has landed.
func selectWhenReady(ctx context.Context, eng *engine.Engine, conversationID string, logger *zap.Logger) {
	select {
	case <-eng.Ready():
	case <-ctx.Done():
		return
	}
	if _, err := eng.Select(ctx, conversationID); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("open conversation", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// watchPrinter writes snapshots and updates as they arrive. observe runs on
// the engine loop and update on the command goroutine.
type watchPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	json   bool
	userID string
	last   string
}

type watchEvent struct {
	Type     string           `json:"type"`
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Update   *notify.Update   `json:"update,omitempty"`
}

func (p *watchPrinter) observe(snap engine.Snapshot) {
	if !snap.Loaded {
		return
	}
	key := snapshotKey(snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.last {
		return
	}
	p.last = key

	if p.json {
		_ = json.NewEncoder(p.out).Encode(watchEvent{Type: "snapshot", Snapshot: &snap})
		return
	}
	fmt.Fprintf(p.out, "-- %d conversations, %d unread\n", len(snap.Conversations), snap.UnreadTotal())
	fmt.Fprintln(p.out, renderConversations(snap.Conversations, p.userID))
	if snap.Selected != "" {
		if conv, ok := snap.Conversation(snap.Selected); ok {
			fmt.Fprintln(p.out, renderThread(conv, snap.Messages, p.userID))
		}
	}
}

func (p *watchPrinter) update(u notify.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		_ = json.NewEncoder(p.out).Encode(watchEvent{Type: "update", Update: &u})
		return
	}
	fmt.Fprintf(p.out, "** %s %s\n", strings.ReplaceAll(u.Reason, "_", " "), u.ConversationID)
}

// snapshotKey identifies what the printer shows, so unchanged polls print
// nothing.
func snapshotKey(snap engine.Snapshot) string {
	var b strings.Builder
	for _, c := range snap.Conversations {
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.ID
		}
		fmt.Fprintf(&b, "%s:%s:%d;", c.ID, last, c.UnreadCount)
	}
	b.WriteString("|" + snap.Selected + "|")
	for _, m := range snap.Messages {
		b.WriteString(m.ID + ";")
	}
	return b.String()
}
