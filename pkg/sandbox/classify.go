package sandbox

import (
	"fmt"
	"strings"
)

// SubstrateError means the execution environment itself failed (daemon
// unreachable, socket permissions, image missing, interpreter absent)
// rather than the tool. Callers use it to decide on the direct fallback,
// and substrate failures never count against a tool's bug ledger.
type SubstrateError struct {
	Reason string
	Err    error
}

func (e *SubstrateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SubstrateError) Unwrap() error {
	return e.Err
}

// dockerCLIExitCodes are the docker client's own failure codes, as opposed
// to exit codes passed through from the containerized process.
func isDockerCLIFailure(exitCode int) bool {
	return exitCode == 125 || exitCode == 126 || exitCode == 127
}

// classifySubstrate maps docker CLI failures onto substrate reasons.
// Returns nil when the output does not look like an environment problem,
// in which case the caller treats the run as a tool failure.
func classifySubstrate(image, stderr string, exitCode int) *SubstrateError {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "permission denied while trying to connect") ||
		(strings.Contains(lower, "permission denied") && strings.Contains(lower, "docker")):
		return &SubstrateError{Reason: "Permission denied connecting to Docker socket. " +
			"Run: sudo usermod -aG docker $USER && newgrp docker"}
	case strings.Contains(lower, "cannot connect to the docker daemon") ||
		strings.Contains(lower, "is the docker daemon running"):
		return &SubstrateError{Reason: "Docker daemon is not running. " +
			"Run: sudo systemctl start docker"}
	case strings.Contains(lower, "unable to find image") ||
		strings.Contains(lower, "manifest unknown") ||
		strings.Contains(lower, "pull access denied") ||
		strings.Contains(lower, "no such image"):
		return &SubstrateError{Reason: fmt.Sprintf("Docker image not found: %s", image)}
	case isDockerCLIFailure(exitCode):
		return &SubstrateError{Reason: fmt.Sprintf("Docker execution failed: %s", firstLine(stderr))}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
