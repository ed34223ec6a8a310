package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Command is an external program invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin io.Reader

	// OnLine receives every non-empty line written to stdout or stderr.
	OnLine func(line string)
}

// Runner runs external programs.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run starts the program and waits for it, streaming its output.
func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Name, err)
	}

	var wg sync.WaitGroup
	wg.Go(func() { streamLines(stdout, c.OnLine) })
	wg.Go(func() { streamLines(stderr, c.OnLine) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

func streamLines(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && onLine != nil {
			onLine(line)
		}
	}
}

// LookupTool returns the absolute path of an installed program, or "" when
// it is not on PATH.
func LookupTool(name string) string {
	p, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return p
}
