package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tlscanary/tlscanary/internal/types"
)

func fakeCandidate() types.Candidate {
	return types.Candidate{Exe: "/bin/true", Profile: "/tmp/profile", ReleaseID: "test"}
}

func TestClassifyLine(t *testing.T) {
	cases := []struct {
		line string
		want logLevel
	}{
		{"DEBUG: socket opened", levelDebug},
		{"INFO: ready", levelInfo},
		{"WARNING: slow handshake", levelWarning},
		{"ERROR: connection refused", levelError},
		{"JavaScript error: TypeError", levelError},
		{"JavaScript warning: deprecated", levelWarning},
		{"CRITICAL: out of memory", levelCritical},
		{"plain stdout noise", levelInfo},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyLine(tc.line), tc.line)
	}
}

func TestNewAssignsUniqueID(t *testing.T) {
	s1 := New(fakeCandidate(), "127.0.0.1:0")
	s2 := New(fakeCandidate(), "127.0.0.1:0")
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.False(t, s1.IsRunning())
}
