package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xqlabs/basex-go/pkg/client"
)

// errQuit ends the read loop without reporting a failure.
var errQuit = errors.New("quit")

// Console reads lines from in, runs them against a session and writes
// replies to out.
type Console struct {
	session *client.Session
	in      io.Reader
	out     io.Writer
}

// New creates a console over an established session.
func New(session *client.Session, in io.Reader, out io.Writer) *Console {
	return &Console{session: session, in: in, out: out}
}

// Run loops until in is exhausted, the user quits, or the session breaks.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "? ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		cmd, err := Parse(scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
			continue
		}
		if cmd == nil {
			continue
		}

		if err := c.run(ctx, cmd); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

func (c *Console) run(ctx context.Context, cmd *Command) error {
	if cmd.Exec == "" {
		return c.runRaw(ctx, cmd)
	}
	if cmd.Exec == "exit" || cmd.Exec == "quit" {
		return errQuit
	}

	result, info, err := c.session.Execute(ctx, cmd.Exec)
	var serverErr *client.ServerError
	switch {
	case errors.As(err, &serverErr):
		fmt.Fprintf(c.out, "! %s\n", serverErr.Info)
	case err != nil:
		return err
	default:
		if result != "" {
			fmt.Fprintln(c.out, result)
		}
		if info != "" {
			fmt.Fprintln(c.out, info)
		}
	}
	return nil
}

// runRaw sends the opcode and arguments verbatim and dumps the reply bytes,
// quoted, without interpreting the response shape.
func (c *Console) runRaw(ctx context.Context, cmd *Command) error {
	reply, err := c.session.Send(ctx, cmd.Op, cmd.Args...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "< %q\n", reply)
	return nil
}
