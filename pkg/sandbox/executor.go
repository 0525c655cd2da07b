package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/models"
)

// commandRunner executes one external command and reports its combined
// outcome. Injectable so tests run without docker or python installed.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)

// Executor runs tool code in throwaway docker containers, with a host
// interpreter fallback for when the container substrate is unavailable.
// Safe for concurrent use: every execution gets its own scratch dir and
// container.
type Executor struct {
	cfg *config.SandboxConfig
	run commandRunner
}

// NewExecutor creates an executor with the given sandbox configuration.
func NewExecutor(cfg *config.SandboxConfig) *Executor {
	return &Executor{cfg: cfg, run: runCommand}
}

func newExecutorWithRunner(cfg *config.SandboxConfig, run commandRunner) *Executor {
	return &Executor{cfg: cfg, run: run}
}

// Execute runs the request in a docker container. Tool failures come back
// inside the record with Success=false and a nil error; a non-nil error is
// always a *SubstrateError meaning the environment itself failed and the
// caller may try ExecuteDirect.
func (e *Executor) Execute(ctx context.Context, req *Request) (*models.ExecutionRecord, error) {
	scratch, err := e.writeScratchDir(req)
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to stage tool script", Err: err}
	}
	defer os.RemoveAll(scratch)

	containerName := "artificer-tool-" + uuid.NewString()[:8]
	defer e.removeContainer(containerName)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := e.dockerRunArgs(containerName, scratch, req.Requirements)
	slog.Debug("Executing tool in container", "container", containerName, "timeout", timeout)

	stdout, stderr, exitCode, runErr := e.run(runCtx, "docker", args...)

	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit && runCtx.Err() == nil {
			return nil, &SubstrateError{
				Reason: "Docker is not installed or socket not found. Install Docker and ensure it's running.",
				Err:    runErr,
			}
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &models.ExecutionRecord{
			Success:           false,
			Error:             fmt.Sprintf("Tool execution timed out after %s", timeout),
			ExecutedInSandbox: true,
			Timestamp:         time.Now().UTC(),
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &SubstrateError{Reason: "execution cancelled", Err: err}
	}

	combined := string(stdout) + string(stderr)
	if record := parseEnvelope(combined, exitCode, true); record != nil {
		return record, nil
	}

	if se := classifySubstrate(e.cfg.Image, string(stderr), exitCode); se != nil {
		return nil, se
	}

	slog.Error("No JSON envelope in container output", "container", containerName, "exit_code", exitCode)
	return &models.ExecutionRecord{
		Success:           false,
		Error:             "Failed to parse tool output",
		Stdout:            combined,
		ExecutedInSandbox: true,
		ExitCode:          &exitCode,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// ExecuteDirect runs the same driver script with the host interpreter.
// Requirements are not installed; the host environment is used as-is.
func (e *Executor) ExecuteDirect(ctx context.Context, req *Request) (*models.ExecutionRecord, error) {
	scratch, err := e.writeScratchDir(req)
	if err != nil {
		return nil, &SubstrateError{Reason: "failed to stage tool script", Err: err}
	}
	defer os.RemoveAll(scratch)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	python := e.cfg.DirectPython
	if python == "" {
		python = "python3"
	}

	stdout, stderr, exitCode, runErr := e.run(runCtx, python, filepath.Join(scratch, "script.py"))

	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit && runCtx.Err() == nil {
			return nil, &SubstrateError{
				Reason: fmt.Sprintf("%s is not available on the host", python),
				Err:    runErr,
			}
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &models.ExecutionRecord{
			Success:   false,
			Error:     fmt.Sprintf("Tool execution timed out after %s", timeout),
			Timestamp: time.Now().UTC(),
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &SubstrateError{Reason: "execution cancelled", Err: err}
	}

	combined := string(stdout) + string(stderr)
	if record := parseEnvelope(combined, exitCode, false); record != nil {
		return record, nil
	}

	return &models.ExecutionRecord{
		Success:   false,
		Error:     "Failed to parse tool output",
		Stdout:    combined,
		ExitCode:  &exitCode,
		Timestamp: time.Now().UTC(),
	}, nil
}

// writeScratchDir stages the driver script in a fresh temp dir that gets
// bind-mounted read-only into the container.
func (e *Executor) writeScratchDir(req *Request) (string, error) {
	scratch, err := os.MkdirTemp("", "tool-exec-")
	if err != nil {
		return "", err
	}
	// Container processes need to read through the mount
	if err := os.Chmod(scratch, 0o755); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	script := buildDriverScript(req)
	if err := os.WriteFile(filepath.Join(scratch, "script.py"), []byte(script), 0o644); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	return scratch, nil
}

func (e *Executor) dockerRunArgs(containerName, scratch string, requirements []string) []string {
	args := []string{
		"run",
		"--name", containerName,
		"-v", scratch + ":/tool:ro",
		"--network", e.cfg.Network,
		"--memory", e.cfg.Memory,
		"--cpu-period", fmt.Sprintf("%d", e.cfg.CPUPeriod),
		"--cpu-quota", fmt.Sprintf("%d", e.cfg.CPUQuota),
		e.cfg.Image,
	}

	command := "python /tool/script.py"
	if len(requirements) > 0 {
		command = fmt.Sprintf("pip install --no-cache-dir %s && %s",
			strings.Join(requirements, " "), command)
	}
	return append(args, "sh", "-c", command)
}

// removeContainer force-removes the container on every exit path. Runs
// detached from the request context so cleanup survives cancellation.
func (e *Executor) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, _, err := e.run(ctx, "docker", "rm", "-f", name); err != nil {
		slog.Debug("Container cleanup failed", "container", name, "error", err)
	}
}

// parseEnvelope scans the output in reverse for the last line that parses
// as a JSON object and lifts it into an ExecutionRecord.
func parseEnvelope(output string, exitCode int, sandboxed bool) *models.ExecutionRecord {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var envelope struct {
			Success   bool   `json:"success"`
			Result    any    `json:"result"`
			Error     string `json:"error"`
			Traceback string `json:"traceback"`
			Stdout    string `json:"stdout"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			continue
		}
		return &models.ExecutionRecord{
			Success:           envelope.Success,
			Result:            envelope.Result,
			Error:             envelope.Error,
			Traceback:         envelope.Traceback,
			Stdout:            envelope.Stdout,
			ExecutedInSandbox: sandboxed,
			ExitCode:          &exitCode,
			Timestamp:         time.Now().UTC(),
		}
	}
	return nil
}

// runCommand is the real commandRunner backed by os/exec.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
