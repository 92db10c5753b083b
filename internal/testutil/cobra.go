package testutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// Execute runs c with args and returns what it printed on stdout, logs included.
func Execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return ExecuteContext(t, context.Background(), c, args...)
}

func ExecuteContext(t *testing.T, ctx context.Context, c *cobra.Command, args ...string) (string, error) {
	t.Helper()

	// Capture the output of the command to a string
	// https://stackoverflow.com/questions/10473800/in-go-how-do-i-capture-stdout-of-a-function-into-a-string#comment46866149_10476304
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	SetContext(c, ctx)
	c.SetArgs(args)
	err = c.ExecuteContext(ctx)

	w.Close()
	os.Stdout = old
	out := <-outC

	return strings.TrimSpace(out), err
}

// SetContext gives c and all of its subcommands ctx. Cobra only hands the root context to a
// subcommand that has none, so without this a subcommand keeps the context of its first run.
func SetContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		SetContext(sub, ctx)
	}
}
