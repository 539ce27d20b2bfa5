// Package cli implements the line-oriented prompts used by the hub setup
// flow.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter asks questions on Out and reads answers from In.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	r *bufio.Reader
}

// DefaultPrompter returns a Prompter bound to stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) line() string {
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	s, err := p.r.ReadString('\n')
	if err != nil && s == "" {
		return ""
	}
	return strings.TrimSpace(s)
}

// Ask prints the question and reads one line. An empty answer takes the
// default.
func (p *Prompter) Ask(question, def string) string {
	if def == "" {
		fmt.Fprintf(p.Out, "%s: ", question)
	} else {
		fmt.Fprintf(p.Out, "%s [%s]: ", question, def)
	}
	if ans := p.line(); ans != "" {
		return ans
	}
	return def
}

// AskPassword reads an answer without echoing it. When In is not a terminal
// (piped input, tests) it degrades to a plain read.
func (p *Prompter) AskPassword(question string) string {
	fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.line()
}

// AskInt asks until it gets a positive integer; an empty answer takes the
// default. Prices and durations are the callers, so zero and negatives are
// rejected.
func (p *Prompter) AskInt(question string, def int) int {
	for {
		ans := p.Ask(question, strconv.Itoa(def))
		if n, err := strconv.Atoi(ans); err == nil && n > 0 {
			return n
		}
		fmt.Fprintln(p.Out, "  Enter a whole number greater than zero.")
	}
}

// Choose lists the options and returns the one picked, by number or by
// name. An empty answer takes the default.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}

	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		for _, opt := range options {
			if strings.EqualFold(ans, opt) {
				return opt
			}
		}
		fmt.Fprintf(p.Out, "  Pick 1-%d or type an option name.\n", len(options))
	}
}
