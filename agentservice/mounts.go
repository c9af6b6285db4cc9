// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/scanfleet/engine"
)

// Mount modes.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// mountLayout maps the segments of a colon-split mount string onto
// mount fields. Indexes are into the segment list; -1 means absent.
// When drive is set the first two segments are a Windows drive letter
// and a path, and form the source together.
type mountLayout struct {
	segments int
	drive    bool
	mode     bool
	source   int
	target   int
	modeAt   int
}

// mountLayouts is the complete grammar. A string whose segment count,
// drive shape, and trailing mode do not match a row is rejected.
//
//	segments  drive  mode  example                     source        target
//	1         no     no    /data                       (anonymous)   /data
//	2         no     no    /src:/data                  /src          /data
//	3         no     yes   /src:/data:ro               /src          /data
//	3         yes    no    C:/src:/data                C:/src        /data
//	4         yes    yes   C:/src:/data:ro             C:/src        /data
//
// A one-letter first segment is a drive only when the segment count
// leaves room for a drive path and a target, so "v:/data" and
// "v:/data:ro" mount the named volume "v".
var mountLayouts = []mountLayout{
	{segments: 1, source: -1, target: 0, modeAt: -1},
	{segments: 2, source: 0, target: 1, modeAt: -1},
	{segments: 3, mode: true, source: 0, target: 1, modeAt: 2},
	{segments: 3, drive: true, source: 0, target: 2, modeAt: -1},
	{segments: 4, drive: true, mode: true, source: 0, target: 2, modeAt: 3},
}

// ParseMount parses "[source:]target[:mode]". Backslashes are
// normalized to forward slashes before splitting. A source that is a
// path (absolute, relative with "./" or "../", home-relative, or a
// drive path) produces a bind mount; any other source names a volume.
// A missing source produces an anonymous volume.
func ParseMount(spec string) (engine.Mount, error) {
	normalized := strings.ReplaceAll(spec, `\`, "/")
	parts := strings.Split(normalized, ":")

	layout, ok := lookupMountLayout(parts)
	if !ok {
		return engine.Mount{}, fmt.Errorf("mount %q: expected [source:]target[:ro|rw]", spec)
	}

	mount := engine.Mount{Type: engine.MountVolume, Target: parts[layout.target]}
	if layout.source >= 0 {
		mount.Source = parts[layout.source]
		if layout.drive {
			mount.Source = parts[0] + ":" + parts[1]
		}
		if mount.Source == "" {
			return engine.Mount{}, fmt.Errorf("mount %q: empty source", spec)
		}
		if layout.drive || isPathSource(mount.Source) {
			mount.Type = engine.MountBind
		}
	}
	if layout.modeAt >= 0 {
		mount.ReadOnly = parts[layout.modeAt] == MountModeRO
	}
	if !strings.HasPrefix(mount.Target, "/") {
		return engine.Mount{}, fmt.Errorf("mount %q: target %q must be an absolute path", spec, mount.Target)
	}
	return mount, nil
}

// ParseMounts parses every spec, stopping at the first error.
func ParseMounts(specs []string) ([]engine.Mount, error) {
	mounts := make([]engine.Mount, 0, len(specs))
	for _, spec := range specs {
		mount, err := ParseMount(spec)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

func lookupMountLayout(parts []string) (mountLayout, bool) {
	mode := isMountMode(parts[len(parts)-1])
	drive := (len(parts) == 4 || len(parts) == 3 && !mode) &&
		isDriveLetter(parts[0]) && strings.HasPrefix(parts[1], "/")
	for _, layout := range mountLayouts {
		if layout.segments == len(parts) && layout.drive == drive && layout.mode == mode {
			return layout, true
		}
	}
	return mountLayout{}, false
}

func isDriveLetter(segment string) bool {
	if len(segment) != 1 {
		return false
	}
	c := segment[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isMountMode(segment string) bool {
	return segment == MountModeRO || segment == MountModeRW
}

func isPathSource(source string) bool {
	return strings.HasPrefix(source, "/") ||
		strings.HasPrefix(source, "./") ||
		strings.HasPrefix(source, "../") ||
		strings.HasPrefix(source, "~")
}
