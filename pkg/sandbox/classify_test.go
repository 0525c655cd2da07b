package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySubstrate(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     string
	}{
		{
			name:     "socket permission",
			stderr:   "permission denied while trying to connect to the Docker daemon socket",
			exitCode: 126,
			want:     "Permission denied connecting to Docker socket",
		},
		{
			name:     "daemon down",
			stderr:   "docker: Cannot connect to the Docker daemon at unix:///var/run/docker.sock.",
			exitCode: 125,
			want:     "Docker daemon is not running",
		},
		{
			name:     "image missing",
			stderr:   "docker: Error response from daemon: manifest unknown",
			exitCode: 125,
			want:     "Docker image not found: python:3.11-slim",
		},
		{
			name:     "generic cli failure",
			stderr:   "docker: invalid reference format.\nSee 'docker run --help'.",
			exitCode: 125,
			want:     "Docker execution failed: docker: invalid reference format.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classifySubstrate("python:3.11-slim", tt.stderr, tt.exitCode)
			require.NotNil(t, se)
			assert.Contains(t, se.Error(), tt.want)
		})
	}
}

func TestClassifySubstrateToolErrorsPassThrough(t *testing.T) {
	// Normal tool failures and pip noise are not substrate problems
	assert.Nil(t, classifySubstrate("img", "ZeroDivisionError: division by zero", 1))
	assert.Nil(t, classifySubstrate("img", "WARNING: Running pip as the 'root' user", 0))
	assert.Nil(t, classifySubstrate("img", "Could not find a version that satisfies the requirement nosuchpkg", 1))
}
