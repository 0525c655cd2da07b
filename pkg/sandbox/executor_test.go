package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/config"
)

type fakeCall struct {
	name string
	args []string
}

// fakeRunner answers the docker/python invocation and records every call,
// including the container cleanup.
type fakeRunner struct {
	calls    []fakeCall
	stdout   string
	stderr   string
	exitCode int
	err      error
	block    bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: args})
	if len(args) > 0 && args[0] == "rm" {
		return nil, nil, 0, nil
	}
	if f.block {
		<-ctx.Done()
		return nil, nil, -1, ctx.Err()
	}
	return []byte(f.stdout), []byte(f.stderr), f.exitCode, f.err
}

func (f *fakeRunner) runCall(t *testing.T) fakeCall {
	t.Helper()
	for _, call := range f.calls {
		if len(call.args) > 0 && call.args[0] == "run" {
			return call
		}
	}
	t.Fatal("no docker run call recorded")
	return fakeCall{}
}

func testExecutor(runner *fakeRunner) *Executor {
	return newExecutorWithRunner(config.DefaultSandboxConfig(), runner.run)
}

func simpleRequest() *Request {
	return &Request{
		Code:   "def double(x):\n    return x * 2",
		Entry:  "double",
		Params: map[string]any{"x": 21},
	}
}

func TestExecuteSuccess(t *testing.T) {
	runner := &fakeRunner{stdout: `{"success": true, "result": {"result": 42}}`}
	e := testExecutor(runner)

	record, err := e.Execute(context.Background(), simpleRequest())
	require.NoError(t, err)

	assert.True(t, record.Success)
	assert.True(t, record.ExecutedInSandbox)
	require.NotNil(t, record.ExitCode)
	assert.Equal(t, 0, *record.ExitCode)
	result, ok := record.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), result["result"])
}

func TestExecuteDockerRunArguments(t *testing.T) {
	runner := &fakeRunner{stdout: `{"success": true, "result": {}}`}
	e := testExecutor(runner)

	req := simpleRequest()
	req.Requirements = []string{"requests", "beautifulsoup4"}
	_, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	call := runner.runCall(t)
	assert.Equal(t, "docker", call.name)
	joined := strings.Join(call.args, " ")
	assert.Contains(t, joined, "--network bridge")
	assert.Contains(t, joined, "--memory 512m")
	assert.Contains(t, joined, "--cpu-period 100000")
	assert.Contains(t, joined, "--cpu-quota 50000")
	assert.Contains(t, joined, "python:3.11-slim")
	assert.Contains(t, joined, ":/tool:ro")
	assert.Contains(t, joined, "pip install --no-cache-dir requests beautifulsoup4 && python /tool/script.py")
}

func TestExecuteRemovesContainer(t *testing.T) {
	runner := &fakeRunner{stdout: `{"success": true, "result": {}}`}
	e := testExecutor(runner)

	_, err := e.Execute(context.Background(), simpleRequest())
	require.NoError(t, err)

	var removed bool
	for _, call := range runner.calls {
		if len(call.args) >= 2 && call.args[0] == "rm" && call.args[1] == "-f" {
			removed = true
		}
	}
	assert.True(t, removed)
}

func TestExecuteToolFailure(t *testing.T) {
	runner := &fakeRunner{
		stderr:   `{"success": false, "error": "division by zero", "traceback": "Traceback (most recent call last): ..."}`,
		exitCode: 1,
		err:      &exec.ExitError{},
	}
	e := testExecutor(runner)

	record, err := e.Execute(context.Background(), simpleRequest())
	require.NoError(t, err)

	assert.False(t, record.Success)
	assert.Equal(t, "division by zero", record.Error)
	assert.Contains(t, record.Traceback, "Traceback")
	assert.True(t, record.ExecutedInSandbox)
	require.NotNil(t, record.ExitCode)
	assert.Equal(t, 1, *record.ExitCode)
}

func TestExecuteSubstrateDaemonDown(t *testing.T) {
	runner := &fakeRunner{
		stderr:   "docker: Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?",
		exitCode: 125,
		err:      &exec.ExitError{},
	}
	e := testExecutor(runner)

	record, err := e.Execute(context.Background(), simpleRequest())
	assert.Nil(t, record)

	var substrate *SubstrateError
	require.ErrorAs(t, err, &substrate)
	assert.Contains(t, substrate.Reason, "Docker daemon is not running")
}

func TestExecuteSubstrateImageMissing(t *testing.T) {
	runner := &fakeRunner{
		stderr:   "Unable to find image 'python:3.11-slim' locally\ndocker: Error response from daemon: pull access denied",
		exitCode: 125,
		err:      &exec.ExitError{},
	}
	e := testExecutor(runner)

	_, err := e.Execute(context.Background(), simpleRequest())

	var substrate *SubstrateError
	require.ErrorAs(t, err, &substrate)
	assert.Contains(t, substrate.Reason, "Docker image not found: python:3.11-slim")
}

func TestExecuteSubstrateBinaryMissing(t *testing.T) {
	runner := &fakeRunner{err: &exec.Error{Name: "docker", Err: exec.ErrNotFound}}
	e := testExecutor(runner)

	_, err := e.Execute(context.Background(), simpleRequest())

	var substrate *SubstrateError
	require.ErrorAs(t, err, &substrate)
	assert.Contains(t, substrate.Reason, "Docker is not installed")
}

func TestExecuteTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	e := testExecutor(runner)

	req := simpleRequest()
	req.Timeout = 20 * time.Millisecond
	record, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "timed out")
	assert.True(t, record.ExecutedInSandbox)
}

func TestExecuteParseFailure(t *testing.T) {
	runner := &fakeRunner{stdout: "Collecting requests\nno envelope here"}
	e := testExecutor(runner)

	record, err := e.Execute(context.Background(), simpleRequest())
	require.NoError(t, err)

	assert.False(t, record.Success)
	assert.Equal(t, "Failed to parse tool output", record.Error)
	assert.Contains(t, record.Stdout, "no envelope here")
}

func TestExecuteDirect(t *testing.T) {
	runner := &fakeRunner{stdout: `{"success": true, "result": {"result": 7}, "stdout": "computing...\n"}`}
	e := testExecutor(runner)

	record, err := e.ExecuteDirect(context.Background(), &Request{
		Code:   "result = 7",
		Params: map[string]any{},
	})
	require.NoError(t, err)

	assert.True(t, record.Success)
	assert.False(t, record.ExecutedInSandbox)
	assert.Equal(t, "computing...\n", record.Stdout)

	require.NotEmpty(t, runner.calls)
	call := runner.calls[0]
	assert.Equal(t, "python3", call.name)
	require.Len(t, call.args, 1)
	assert.True(t, strings.HasSuffix(call.args[0], "script.py"))
}

func TestExecuteDirectPythonMissing(t *testing.T) {
	runner := &fakeRunner{err: &exec.Error{Name: "python3", Err: exec.ErrNotFound}}
	e := testExecutor(runner)

	_, err := e.ExecuteDirect(context.Background(), &Request{Code: "result = 1"})

	var substrate *SubstrateError
	require.ErrorAs(t, err, &substrate)
	assert.Contains(t, substrate.Reason, "python3 is not available")
}

func TestExecuteCancelled(t *testing.T) {
	runner := &fakeRunner{block: true}
	e := testExecutor(runner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, simpleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
