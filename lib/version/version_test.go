// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func saveVersion(t *testing.T) {
	t.Helper()
	commit, dirty, built := GitCommit, GitDirty, BuildTime
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime = commit, dirty, built })
}

func TestInfo(t *testing.T) {
	saveVersion(t)

	GitCommit = "abc1234"
	GitDirty = "false"
	if got := Info(); !strings.Contains(got, "(abc1234, ") || strings.Contains(got, "-dirty") {
		t.Errorf("Info() = %q", got)
	}

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() with dirty tree = %q", got)
	}
	if !strings.HasPrefix(Full(), Info()) {
		t.Errorf("Full() = %q does not start with Info()", Full())
	}
	if got := Binary("scanfleet-inject"); got != "scanfleet-inject "+Info() {
		t.Errorf("Binary() = %q", got)
	}
}

func TestFillFromBuildSettings(t *testing.T) {
	stamp := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
	}

	t.Run("unset", func(t *testing.T) {
		saveVersion(t)
		GitCommit, GitDirty, BuildTime = "unknown", "false", "unknown"
		fillFromBuildSettings(stamp)
		if GitCommit != "0123456789ab" || GitDirty != "true" || BuildTime != "2026-03-01T12:00:00Z" {
			t.Errorf("got commit=%q dirty=%q time=%q", GitCommit, GitDirty, BuildTime)
		}
	})
	t.Run("ldflags win", func(t *testing.T) {
		saveVersion(t)
		GitCommit, GitDirty, BuildTime = "release1", "false", "2026-01-01"
		fillFromBuildSettings(stamp[:1])
		if GitCommit != "release1" || BuildTime != "2026-01-01" {
			t.Errorf("ldflags values overwritten: commit=%q time=%q", GitCommit, BuildTime)
		}
	})
}
