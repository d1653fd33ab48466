package etl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

// Command runs an external program as a stage. Its output is forwarded line
// by line to the log and a non-zero exit fails the stage.
type Command struct {
	Argv   []string
	Env    map[string]string
	Dir    string
	Logger logger.Logger
}

// Action returns the stage action.
func (c Command) Action() (stage.Action, error) {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return nil, errors.New("command must not be empty")
	}
	return stage.ActionFunc(c.run), nil
}

func (c Command) run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.Argv[0], err)
	}

	log := c.Logger.With(logger.String("command", c.Argv[0]))
	var wg sync.WaitGroup
	wg.Add(2)
	go forward(&wg, stdout, func(line string) { log.Info(line, logger.String("stream", "stdout")) })
	go forward(&wg, stderr, func(line string) { log.Warn(line, logger.String("stream", "stderr")) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", c.Argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d", c.Argv[0], exitErr.ExitCode())
		}
		return fmt.Errorf("%s: %w", c.Argv[0], err)
	}
	return nil
}

func forward(wg *sync.WaitGroup, r io.Reader, emit func(string)) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(sc.Text())
	}
}
