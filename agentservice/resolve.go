// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bureau-foundation/scanfleet/engine"
	"github.com/bureau-foundation/scanfleet/lib/agentdef"
)

// Defaults are the values used when neither the instance settings nor
// the agent manifest set a field.
type Defaults struct {
	Mounts        []string
	Constraints   []string
	MemLimit      int64
	RestartPolicy string
	OpenPorts     []agentdef.OpenPort
}

// DefaultDefaults returns the built-in defaults: no mounts, no
// constraints, no memory limit, restart on any exit, no published
// ports.
func DefaultDefaults() Defaults {
	return Defaults{RestartPolicy: agentdef.RestartAny}
}

// Resolved holds the effective value of every overridable field.
type Resolved struct {
	Mounts        []string
	Constraints   []string
	MemLimit      int64
	RestartPolicy string
	OpenPorts     []agentdef.OpenPort
	// Args is the manifest's declared arguments with instance values
	// substituted by name, followed by instance-only arguments.
	Args []agentdef.Arg
}

// LongRunning reports whether the service is expected to stay up.
// One-shot agents (restart policy "none") are not.
func (r Resolved) LongRunning() bool {
	return r.RestartPolicy != agentdef.RestartNone
}

// Resolve applies instance-over-manifest-over-default precedence to
// each field independently. A nil definition behaves like an empty
// manifest.
func Resolve(settings agentdef.Settings, definition *agentdef.Definition, defaults Defaults) Resolved {
	if definition == nil {
		definition = &agentdef.Definition{}
	}
	return Resolved{
		Mounts:        firstSlice(settings.Mounts, definition.Mounts, defaults.Mounts),
		Constraints:   firstSlice(settings.Constraints, definition.Constraints, defaults.Constraints),
		MemLimit:      firstValue(settings.MemLimit, definition.MemLimit, defaults.MemLimit),
		RestartPolicy: firstValue(settings.RestartPolicy, definition.RestartPolicy, defaults.RestartPolicy),
		OpenPorts:     firstSlice(settings.OpenPorts, definition.OpenPorts, defaults.OpenPorts),
		Args:          mergeArgs(definition.Args, settings.Args),
	}
}

func firstSlice[T any](candidates ...[]T) []T {
	for _, candidate := range candidates {
		if len(candidate) > 0 {
			return append([]T(nil), candidate...)
		}
	}
	return nil
}

func firstValue[T comparable](candidates ...T) T {
	var zero T
	for _, candidate := range candidates {
		if candidate != zero {
			return candidate
		}
	}
	return zero
}

func mergeArgs(declared, instance []agentdef.Arg) []agentdef.Arg {
	merged := append([]agentdef.Arg(nil), declared...)
	for _, arg := range instance {
		replaced := false
		for i := range merged {
			if merged[i].Name == arg.Name {
				merged[i] = arg
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, arg)
		}
	}
	return merged
}

// ResolvedImage is an agent image located in the local image list,
// with its parsed manifest. It is computed once per build and passed
// down rather than looked up again.
type ResolvedImage struct {
	// Reference is "repository:tag".
	Reference string
	ID        string
	Key       string
	Version   string
	// Definition is the parsed manifest and DefinitionText the label
	// content it was parsed from.
	Definition     *agentdef.Definition
	DefinitionText []byte
}

// ImageResolver locates agent images.
type ImageResolver struct {
	engine engine.Engine
}

// NewImageResolver returns a resolver over the engine's local images.
func NewImageResolver(eng engine.Engine) *ImageResolver {
	return &ImageResolver{engine: eng}
}

// Resolve finds the image for key at version, or at the highest tagged
// version when version is empty. An image without the manifest label
// is a [*MissingDefinitionError]; no image at all is an
// [*ImageNotFoundError].
func (r *ImageResolver) Resolve(ctx context.Context, key, version string) (ResolvedImage, error) {
	repository, err := agentdef.ImageName(key)
	if err != nil {
		return ResolvedImage{}, err
	}
	images, err := r.engine.ListImages(ctx)
	if err != nil {
		return ResolvedImage{}, fmt.Errorf("resolving %s: %w", key, err)
	}
	return resolveFromList(images, key, repository, version)
}

// ResolveAll resolves every agent of a group against one image
// listing, keyed by "key:version" as written in the group.
func (r *ImageResolver) ResolveAll(ctx context.Context, group *agentdef.Group) (map[string]ResolvedImage, error) {
	images, err := r.engine.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	resolved := make(map[string]ResolvedImage)
	for _, settings := range group.Agents {
		lookup := ImageKey(settings.Key, settings.Version)
		if _, done := resolved[lookup]; done {
			continue
		}
		repository, err := agentdef.ImageName(settings.Key)
		if err != nil {
			return nil, err
		}
		image, err := resolveFromList(images, settings.Key, repository, settings.Version)
		if err != nil {
			return nil, err
		}
		resolved[lookup] = image
	}
	return resolved, nil
}

// ImageKey is the map key used by [ImageResolver.ResolveAll].
func ImageKey(key, version string) string {
	return key + ":" + version
}

func resolveFromList(images []engine.Image, key, repository, version string) (ResolvedImage, error) {
	type candidate struct {
		image   engine.Image
		repoTag string
		tag     string
	}
	var candidates []candidate
	for _, image := range images {
		for _, repoTag := range image.RepoTags {
			name, tag, ok := splitRepoTag(repoTag)
			if !ok || name != repository {
				continue
			}
			if version != "" && tag != version {
				continue
			}
			candidates = append(candidates, candidate{image: image, repoTag: repoTag, tag: tag})
		}
	}
	if len(candidates) == 0 {
		return ResolvedImage{}, &ImageNotFoundError{Key: key, Version: version}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return compareVersions(candidates[i].tag, candidates[j].tag) > 0
	})
	chosen := candidates[0]
	reference := chosen.repoTag

	text, ok := chosen.image.Labels[agentdef.DefinitionLabel]
	if !ok || strings.TrimSpace(text) == "" {
		return ResolvedImage{}, &MissingDefinitionError{Image: reference}
	}
	definition, err := agentdef.ParseDefinition([]byte(text))
	if err != nil {
		return ResolvedImage{}, fmt.Errorf("image %s: %w", reference, err)
	}
	return ResolvedImage{
		Reference:      reference,
		ID:             chosen.image.ID,
		Key:            key,
		Version:        chosen.tag,
		Definition:     definition,
		DefinitionText: []byte(text),
	}, nil
}

// splitRepoTag splits "registry:5000/name:tag" into name and tag,
// taking the tag after the last colon of the final path component.
// The name keeps only the final path component.
func splitRepoTag(repoTag string) (name, tag string, ok bool) {
	slash := strings.LastIndex(repoTag, "/")
	last := repoTag[slash+1:]
	colon := strings.LastIndex(last, ":")
	if colon <= 0 {
		return "", "", false
	}
	return last[:colon], last[colon+1:], true
}

// compareVersions orders dotted numeric versions numerically, with
// "latest" below any numbered version. Non-numeric segments compare
// as strings.
func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	if a == "latest" {
		return -1
	}
	if b == "latest" {
		return 1
	}
	left := strings.Split(strings.TrimPrefix(a, "v"), ".")
	right := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(left) || i < len(right); i++ {
		if i >= len(left) {
			return -1
		}
		if i >= len(right) {
			return 1
		}
		leftNumber, leftErr := strconv.Atoi(left[i])
		rightNumber, rightErr := strconv.Atoi(right[i])
		switch {
		case leftErr == nil && rightErr == nil:
			if leftNumber != rightNumber {
				if leftNumber < rightNumber {
					return -1
				}
				return 1
			}
		default:
			if c := strings.Compare(left[i], right[i]); c != 0 {
				return c
			}
		}
	}
	return 0
}

// IsMissingDefinition reports whether err is a [*MissingDefinitionError].
func IsMissingDefinition(err error) bool {
	var missing *MissingDefinitionError
	return errors.As(err, &missing)
}
