package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/finbase/docingest/internal/batch"
)

// ConsolePrompter answers consolidated resolution requests on the terminal.
// One prompt covers every affected file of a conflict kind; the user can
// answer for all files at once or decide per file.
type ConsolePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsolePrompter creates a prompter reading from in and writing to out.
// Pass the progress UI's writer as out so prompts render above active bars.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(in), out: out}
}

// Resolve implements batch.Resolver.
func (p *ConsolePrompter) Resolve(ctx context.Context, req *batch.Request) (batch.Decision, error) {
	switch req.Kind {
	case batch.KindDuplicate:
		return p.resolveDuplicates(ctx, req)
	case batch.KindMismatch:
		return p.resolveMismatches(ctx, req)
	default:
		return nil, fmt.Errorf("unknown resolution kind %q", req.Kind)
	}
}

func (p *ConsolePrompter) resolveDuplicates(ctx context.Context, req *batch.Request) (batch.Decision, error) {
	fmt.Fprintf(p.out, "\n⚠️  %d file(s) match documents already in the dashboard:\n", len(req.Entries))
	for i, entry := range req.Entries {
		fmt.Fprintf(p.out, "   %d. %s\n", i+1, entry.FileName)
	}
	fmt.Fprintln(p.out, "What would you like to do?")
	fmt.Fprintln(p.out, "  1. Skip all - keep the existing documents")
	fmt.Fprintln(p.out, "  2. Upload all anyway")
	fmt.Fprintln(p.out, "  3. Decide per file")

	for {
		fmt.Fprint(p.out, "Choose [1-3]: ")
		input, err := p.readLine(ctx)
		if err != nil {
			return nil, err
		}
		switch input {
		case "1":
			return req.SkipAll(), nil
		case "2":
			return req.ProceedAll(), nil
		case "3":
			return p.decidePerFile(ctx, req, func(entry batch.Entry) string {
				return fmt.Sprintf("Upload '%s' anyway? [y/N]: ", entry.FileName)
			})
		default:
			fmt.Fprintln(p.out, "Invalid choice, please try again.")
		}
	}
}

func (p *ConsolePrompter) resolveMismatches(ctx context.Context, req *batch.Request) (batch.Decision, error) {
	fmt.Fprintf(p.out, "\n⚠️  %d file(s) were detected as a different document type:\n", len(req.Entries))
	for i, entry := range req.Entries {
		fmt.Fprintf(p.out, "   %d. %s (declared %s, detected %s)\n",
			i+1, entry.FileName, entry.Declared, entry.Detected)
	}
	fmt.Fprintln(p.out, "What would you like to do?")
	fmt.Fprintln(p.out, "  1. Skip all")
	fmt.Fprintln(p.out, "  2. Upload all under the detected type")
	fmt.Fprintln(p.out, "  3. Decide per file")

	for {
		fmt.Fprint(p.out, "Choose [1-3]: ")
		input, err := p.readLine(ctx)
		if err != nil {
			return nil, err
		}
		switch input {
		case "1":
			return req.SkipAll(), nil
		case "2":
			return req.ProceedAll(), nil
		case "3":
			return p.decidePerFile(ctx, req, func(entry batch.Entry) string {
				return fmt.Sprintf("Upload '%s' as %s? [y/N]: ", entry.FileName, entry.Detected)
			})
		default:
			fmt.Fprintln(p.out, "Invalid choice, please try again.")
		}
	}
}

func (p *ConsolePrompter) decidePerFile(ctx context.Context, req *batch.Request, question func(batch.Entry) string) (batch.Decision, error) {
	decision := make(batch.Decision, len(req.Entries))
	for _, entry := range req.Entries {
		fmt.Fprint(p.out, question(entry))
		input, err := p.readLine(ctx)
		if err != nil {
			return nil, err
		}
		answer := strings.ToLower(input)
		decision[entry.Key] = answer == "y" || answer == "yes"
	}
	return decision, nil
}

// readLine reads one trimmed line, honouring context cancellation. A pending
// read is abandoned when the context ends.
func (p *ConsolePrompter) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	}
}
