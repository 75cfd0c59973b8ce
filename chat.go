package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"airose/pkg/graph"
	"airose/pkg/llm"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to AI Rose from the terminal",
	Long: `Reads one message per line from stdin and prints the reply.
Commands: /history prints the stored conversation, /reset forgets it, /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appPath, _ := cmd.Flags().GetString("config")
		sysPath, _ := cmd.Flags().GetString("system")
		convID, _ := cmd.Flags().GetString("id")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, appPath, sysPath)
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		r := &repl{app: a, convID: convID, verbose: verbose, out: out, color: isTerminal(out)}
		return r.loop(ctx, cmd.InOrStdin())
	},
}

type repl struct {
	app     *app
	convID  string
	verbose bool
	out     io.Writer
	color   bool // ANSI 顏色只在終端機輸出
	alerts  int
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// paint wraps s in an ANSI color code when the output is a terminal.
func (r *repl) paint(code, s string) string {
	if !r.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(r.out, "Conversation %q. Type /quit to leave.\n", r.convID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "%s %v\n", r.paint("31", "error:"), err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one line. It reports whether the REPL should stop.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	g, sysCfg := r.app.current()

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/history":
		msgs, err := g.History(ctx, r.convID)
		if err != nil {
			return false, err
		}
		for _, m := range msgs {
			r.printMessage(m)
		}
		return false, nil
	case "/reset":
		if err := g.Reset(ctx, r.convID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "(conversation cleared)")
		return false, nil
	}

	unlock, err := r.app.locker.Lock(ctx, r.convID, time.Duration(sysCfg.TurnLockTTLMs)*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("conversation is busy: %w", err)
	}
	defer unlock(context.Background())

	res, err := g.Run(ctx, r.convID, line)
	if err != nil {
		if errors.Is(err, graph.ErrInvalidInput) {
			return false, nil
		}
		return false, err
	}

	if r.verbose {
		fmt.Fprintln(r.out, r.paint("90", fmt.Sprintf("(route=%s nodes=%d stored=%d)", res.Route, res.Nodes, len(res.State.Messages))))
	}
	if res.Reply != "" {
		fmt.Fprintf(r.out, "AI Rose: %s\n", res.Reply)
	}
	r.printAlerts()
	return false, nil
}

func (r *repl) printMessage(m llm.Message) {
	switch {
	case m.Role == llm.RoleTool:
		fmt.Fprintf(r.out, "  [tool %s] %s\n", m.ToolName, m.GetTextContent())
	case len(m.ToolCalls) > 0:
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(r.out, "  [call %s] %s\n", tc.Name, tc.Arguments)
		}
	default:
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.GetTextContent())
	}
}

// printAlerts shows the care-giver alerts raised since the last turn.
func (r *repl) printAlerts() {
	alerts := r.app.recorder.Alerts()
	for _, al := range alerts[r.alerts:] {
		fmt.Fprintf(r.out, "%s %s\n", r.paint("33", "[ALERT -> "+al.Target+"]"), al.RedFlag)
	}
	r.alerts = len(alerts)
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("id", "cli_local", "Conversation id to resume")
	chatCmd.Flags().BoolP("verbose", "v", false, "Print the route taken by each turn")
}
