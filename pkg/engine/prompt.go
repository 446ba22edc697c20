package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// LinePrompter asks the duplicate-day question on a line-oriented terminal
// and re-asks until the answer is valid.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	// MaxAttempts bounds re-prompting. Zero means unlimited.
	MaxAttempts int

	reader *bufio.Reader
}

// NewLinePrompter creates a prompter reading from in and writing to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{In: in, Out: out, MaxAttempts: 5}
}

// ChooseDuplicate implements Prompter. End of input cancels.
func (p *LinePrompter) ChooseDuplicate(ctx context.Context, info DuplicateInfo) (Choice, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	fmt.Fprintln(p.Out, info.Describe())
	fmt.Fprintln(p.Out, "  1) Generate another report for today")
	fmt.Fprintln(p.Out, "  2) Overwrite today's report")
	fmt.Fprintln(p.Out, "  3) Cancel")

	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ChoiceCancel, err
		}
		fmt.Fprint(p.Out, "Choose [1/2/3] (default 3): ")

		line, err := p.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return ChoiceCancel, fmt.Errorf("failed to read answer: %w", err)
		}
		if choice := ParseChoice(line); choice != ChoiceInvalid {
			return choice, nil
		}
		if errors.Is(err, io.EOF) {
			return ChoiceCancel, nil
		}
		fmt.Fprintf(p.Out, "Please answer 1, 2 or 3.\n")
	}
	return ChoiceCancel, nil
}
