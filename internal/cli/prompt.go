// Package cli holds terminal helpers for the interactive editor: prompts,
// the native file picker, and plan formatting.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Prompter reads answers line by line.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter returns a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Line prints prompt and returns the trimmed reply. io.EOF is returned once
// input is exhausted and nothing was typed.
func (p *Prompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// WithDefault prompts with def shown in brackets and returns def when the
// reply is empty.
func (p *Prompter) WithDefault(label, def string) string {
	input, err := p.Line(fmt.Sprintf("%s [%s]: ", label, def))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read input, using default")
		return def
	}
	if input == "" {
		return def
	}
	return input
}
