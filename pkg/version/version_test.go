package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuild := Version, GitCommit, BuildTime
	defer func() {
		Version, GitCommit, BuildTime = origVersion, origCommit, origBuild
	}()

	Version, GitCommit, BuildTime = "1.2.3", "abc123def", "2026-01-15T10:30:00Z"

	s := String()
	assert.Contains(t, s, "verdict 1.2.3")
	assert.Contains(t, s, "abc123def")
	assert.Contains(t, s, runtime.Version())
}

func TestInfo(t *testing.T) {
	info := Info()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.GoVersion)
}
