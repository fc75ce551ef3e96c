package tendril

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/sanitize"
)

// Runner drives a conversation from line based IO, one event per line.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer

	TenantID  string
	ChannelID string
	Phone     string
}

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner for a local conversation of tenantID.
// Input and Output must be set before Run.
func NewRunner(tenantID string) *Runner {
	return &Runner{
		TenantID:  tenantID,
		ChannelID: "cli",
		Phone:     "local",
	}
}

// Run reads lines until EOF, "quit" or the end of the flow.
// Expired or contended sessions are reported and the loop continues.
func (r *Runner) Run(ctx context.Context, engine *Engine) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	writer := r.Output
	if writer == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(r.Input)

	if !r.Headless {
		fmt.Fprintln(writer, "--- Tendril Chat ---")
	}

	for seq := 1; ; seq++ {
		if !r.Headless {
			fmt.Fprint(writer, "> ")
		}
		text, err := lineReader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && text != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}
		input, err := sanitize.Text(strings.TrimSpace(text))
		if err != nil {
			fmt.Fprintf(writer, "(%v)\n", err)
			continue
		}
		if input == "quit" {
			fmt.Fprintln(writer, "Bye!")
			return nil
		}

		res, err := engine.Trigger(ctx, domain.TriggerRequest{
			TenantID:  r.TenantID,
			ChannelID: r.ChannelID,
			Phone:     r.Phone,
			Payload:   map[string]any{"text": input},
			EventID:   "local-" + strconv.Itoa(seq),
		})
		switch {
		case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrOptimisticLock):
			fmt.Fprintf(writer, "(%v)\n", err)
			continue
		case err != nil:
			return fmt.Errorf("trigger error: %w", err)
		}

		for _, msg := range res.Messages() {
			r.print(writer, msg)
		}
		if res.Ended {
			if !r.Headless {
				fmt.Fprintln(writer, "(conversation ended)")
			}
			return nil
		}
	}
}

func (r *Runner) print(w io.Writer, msg string) {
	output := msg
	if r.Renderer != nil {
		if rendered, err := r.Renderer(msg); err == nil {
			output = rendered
		}
	}
	fmt.Fprintln(w, strings.TrimSpace(output))
}
