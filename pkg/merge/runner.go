package merge

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
)

// Runner runs external tools in a working directory.
type Runner interface {
	// Run executes argv with the given stdin and stdout (either may be nil).
	Run(ctx context.Context, dir string, stdin io.Reader, stdout io.Writer, argv ...string) error
	// Pipe runs producer with its output piped into consumer, whose output
	// goes to stdout.
	Pipe(ctx context.Context, dir string, stdout io.Writer, producer, consumer []string) error
}

// ExecRunner runs tools with os/exec. Failures carry the tool's stderr.
type ExecRunner struct {
	Logger *log.Logger
}

func (r ExecRunner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

func (r ExecRunner) command(ctx context.Context, dir string, argv []string, stderr *bytes.Buffer) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stderr = stderr
	r.logger().Debug("running", "cmd", strings.Join(argv, " "), "dir", dir)
	return cmd
}

func (r ExecRunner) Run(ctx context.Context, dir string, stdin io.Reader, stdout io.Writer, argv ...string) error {
	var stderr bytes.Buffer
	cmd := r.command(ctx, dir, argv, &stderr)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	if err := cmd.Run(); err != nil {
		return toolError(argv, err, &stderr)
	}
	return nil
}

func (r ExecRunner) Pipe(ctx context.Context, dir string, stdout io.Writer, producer, consumer []string) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}

	var prodErr, consErr bytes.Buffer
	prod := r.command(ctx, dir, producer, &prodErr)
	prod.Stdout = pw
	cons := r.command(ctx, dir, consumer, &consErr)
	cons.Stdin = pr
	cons.Stdout = stdout

	if err := prod.Start(); err != nil {
		pr.Close()
		pw.Close()
		return toolError(producer, err, &prodErr)
	}
	if err := cons.Start(); err != nil {
		pr.Close()
		pw.Close()
		prod.Wait()
		return toolError(consumer, err, &consErr)
	}
	pr.Close()
	pw.Close()

	// A failing consumer usually kills the producer with SIGPIPE, so the
	// consumer error comes first and carries both outputs.
	consWait := cons.Wait()
	prodWait := prod.Wait()
	if consWait != nil {
		out := strings.TrimSpace(consErr.String())
		if prodWait != nil {
			if p := strings.TrimSpace(prodErr.String()); p != "" {
				out = strings.TrimSpace(out + "\n" + producer[0] + ": " + p)
			}
		}
		return derrors.Wrap(derrors.KindToolInvocation, consWait, "%s failed", consumer[0]).WithOutput(out)
	}
	if prodWait != nil {
		return toolError(producer, prodWait, &prodErr)
	}
	return nil
}

func toolError(argv []string, err error, stderr *bytes.Buffer) error {
	return derrors.Wrap(derrors.KindToolInvocation, err, "%s failed", argv[0]).
		WithOutput(strings.TrimSpace(stderr.String()))
}
