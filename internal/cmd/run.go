package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nicobailon/pi-interactive-shell/internal/activitylog"
	"github.com/nicobailon/pi-interactive-shell/internal/controller"
	"github.com/nicobailon/pi-interactive-shell/internal/driverapi"
	"github.com/nicobailon/pi-interactive-shell/internal/overlay"
	"github.com/nicobailon/pi-interactive-shell/internal/registry"
	"github.com/nicobailon/pi-interactive-shell/internal/sessionid"
)

func newRunCmd() *cobra.Command {
	var (
		name            string
		reason          string
		handsFree       bool
		timeoutMs       int
		handoffPreview  bool
		handoffSnapshot bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Launch a command under a supervised PTY",
		Long: `Launch the given command under a pseudo-terminal and supervise it with the
interactive-shell engine. With a real terminal attached, keystrokes are
forwarded to the child until a double-Escape opens the detach dialog
(background, minimize, kill, or cancel). With --hands-free, pish prints
periodic status updates instead of attaching an interactive overlay.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(strings.Join(args, " "), runOptions{
				name: name, reason: reason, handsFree: handsFree,
				timeoutMs: timeoutMs, handoffPreview: handoffPreview, handoffSnapshot: handoffSnapshot,
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "label for the session if detached to background/minimized")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form note for the label above")
	cmd.Flags().BoolVar(&handsFree, "hands-free", false, "drive the session as a hands-free driver instead of attaching interactively")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "hard deadline in milliseconds; 0 disables")
	cmd.Flags().BoolVar(&handoffPreview, "handoff-preview", true, "compute an in-memory tail-lines preview on exit/detach")
	cmd.Flags().BoolVar(&handoffSnapshot, "handoff-snapshot", false, "write a handoff snapshot file on exit/detach")

	return cmd
}

type runOptions struct {
	name, reason    string
	handsFree       bool
	timeoutMs       int
	handoffPreview  bool
	handoffSnapshot bool
}

func runCommand(command string, opts runOptions) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("pish: getwd: %w", err)
	}
	cfg := loadConfig(cwd)

	log := activitylog.New(true, activitylog.DefaultPath(), "pish", "")
	reg := registry.New(sessionid.NewPool(nil), log)
	facade := driverapi.New(reg, cfg, log)

	req := driverapi.StartRequest{
		Command:         command,
		Cwd:             cwd,
		Name:            opts.name,
		Reason:          opts.reason,
		HandsFree:       opts.handsFree,
		TimeoutMs:       opts.timeoutMs,
		HandoffPreview:  opts.handoffPreview,
		HandoffSnapshot: opts.handoffSnapshot,
	}

	if opts.handsFree {
		return runHandsFree(facade, req)
	}
	return runInteractive(facade, reg, req)
}

// runHandsFree starts the session in the background and prints every
// hands-free update (Running/UserTakeover/Exited) to stdout as it arrives,
// blocking until the session is done. This is the CLI-visible face of the
// driver's asynchronous update stream; a real driver would receive the same
// Update values over its own transport.
func runHandsFree(facade *driverapi.Facade, req driverapi.StartRequest) error {
	done := make(chan struct{})
	req.OnUpdate = func(u controller.Update) {
		switch u.Kind {
		case controller.UpdateRunning:
			if len(u.Tail) > 0 {
				fmt.Println(strings.Join(u.Tail, "\n"))
			}
			if u.BudgetExhausted {
				fmt.Fprintln(os.Stderr, "pish: output budget exhausted")
			}
		case controller.UpdateUserTakeover:
			fmt.Fprintln(os.Stderr, "pish: user took over")
		case controller.UpdateExited:
			fmt.Fprintf(os.Stderr, "pish: session exited after %s, %s sent\n",
				time.Duration(u.RuntimeMs)*time.Millisecond, humanize.Comma(int64(u.TotalCharsSent)))
			close(done)
		}
	}

	resp, err := facade.Start(context.Background(), req)
	if err != nil {
		return fmt.Errorf("pish: start: %w", err)
	}
	fmt.Println("session:", resp.SessionID)
	<-done
	return nil
}

// runInteractive attaches a real terminal to the session via the overlay
// presenter: raw mode on stdin, a redraw-on-tick render loop to stdout, and
// SIGWINCH-driven resize — the minimal reference implementation of the TUI
// rendering surface spec.md §1 treats as an external collaborator.
func runInteractive(facade *driverapi.Facade, reg *registry.Registry, req driverapi.StartRequest) error {
	req.RequiresOverlay = true
	stdinFd := int(os.Stdin.Fd())
	interactiveTTY := isatty.IsTerminal(uintptr(stdinFd)) || isatty.IsCygwinTerminal(uintptr(stdinFd))

	if interactiveTTY {
		out := termenv.NewOutput(os.Stdout)
		if fg := out.ForegroundColor(); fg != nil {
			req.OSCForeground = fg.Sequence(false)
		}
		if bg := out.BackgroundColor(); bg != nil {
			req.OSCBackground = bg.Sequence(true)
		}
	}

	cols, rows := 80, 24
	if w, h, err := term.GetSize(stdinFd); err == nil {
		cols, rows = w, h
	}
	req.Cols, req.Rows = cols, rows

	if interactiveTTY {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("pish: raw mode: %w", err)
		}
		defer term.Restore(stdinFd, state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		resp, err := facade.Start(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pish: start:", err)
		}
		_ = resp
		cancel()
	}()

	// Start registers the controller synchronously before it blocks, so a
	// short poll (rather than a fixed sleep) is enough to pick up its id.
	var id string
	for ctx.Err() == nil {
		if ids := reg.ListActive(); len(ids) == 1 {
			id = ids[0]
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(started)
	if id == "" {
		return nil // Start already failed and cancel() fired
	}
	c, ok := reg.GetActive(id)
	if !ok {
		return nil
	}
	session := c.Session()

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)

	render := func(lines []string) {
		fmt.Print("\x1b[2J\x1b[H")
		fmt.Print(strings.Join(lines, "\r\n"))
	}

	presenter := overlay.New(c, session, render, rows, session.AnsiReemit())
	go presenter.Run()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				presenter.HandleInput(append([]byte(nil), buf[:n]...))
			}
			if err != nil || ctx.Err() != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sigwinch:
			if w, h, err := term.GetSize(stdinFd); err == nil {
				session.Resize(w, h)
			}
		case <-ctx.Done():
			presenter.Close()
			return nil
		}
	}
}
