package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Exec runs argv in dir and returns its combined output and exit status. An
// error means the command could not be run at all.
type Exec func(ctx context.Context, dir string, argv []string) (string, int, error)

func execCommand(ctx context.Context, dir string, argv []string) (string, int, error) {
	if len(argv) == 0 {
		return "", 0, errors.New("empty build command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return out.String(), 0, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out.String(), 0, nil
}
