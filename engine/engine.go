// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"
)

// Engine is the container engine API consumed by the scan runtime.
type Engine interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error
	// Info reports cluster state.
	Info(ctx context.Context) (Info, error)
	// InitCluster turns a standalone engine into a single-node cluster.
	InitCluster(ctx context.Context) error

	// InspectImage returns one image by reference or ID. Returns an
	// error wrapping ErrNotFound when the image is absent.
	InspectImage(ctx context.Context, reference string) (Image, error)
	// ListImages returns every local image.
	ListImages(ctx context.Context) ([]Image, error)
	// PullImage fetches an image from its registry.
	PullImage(ctx context.Context, reference string) error

	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)
	ListNetworks(ctx context.Context) ([]Object, error)
	RemoveNetwork(ctx context.Context, id string) error

	CreateConfig(ctx context.Context, spec ConfigSpec) (string, error)
	ListConfigs(ctx context.Context) ([]Object, error)
	RemoveConfig(ctx context.Context, id string) error

	CreateService(ctx context.Context, spec ServiceSpec) (string, error)
	ListServices(ctx context.Context) ([]Service, error)
	RemoveService(ctx context.Context, id string) error
	// ServiceTasks returns the tasks scheduled for a service.
	ServiceTasks(ctx context.Context, serviceID string) ([]Task, error)
}

// Info is the cluster state relevant to deciding whether a scan can
// run.
type Info struct {
	// ClusterActive is true when the engine is part of an initialized
	// cluster.
	ClusterActive bool
	// Manager is true when this node can create services.
	Manager bool
}

// Image describes a local image.
type Image struct {
	ID       string
	RepoTags []string
	Labels   map[string]string
}

// Object is a listed network or configuration artifact.
type Object struct {
	ID     string
	Name   string
	Labels map[string]string
}

// NetworkSpec describes a network to create.
type NetworkSpec struct {
	Name       string
	Driver     string
	Attachable bool
	Labels     map[string]string
}

// ConfigSpec describes a configuration artifact: an immutable named
// blob that the engine mounts into containers as a file.
type ConfigSpec struct {
	Name   string
	Data   []byte
	Labels map[string]string
}

// ServiceSpec is a fully-resolved service deployment.
type ServiceSpec struct {
	Name        string
	Image       string
	Labels      map[string]string
	Env         []string
	Command     []string
	Mounts      []Mount
	Configs     []ConfigFile
	Networks    []string
	Constraints []string
	// MemoryLimit is in bytes; zero means unlimited.
	MemoryLimit   int64
	RestartPolicy string
	Replicas      uint64
	Endpoint      Endpoint
	Healthcheck   *Healthcheck
}

// Mount types.
const (
	MountBind   = "bind"
	MountVolume = "volume"
)

// Mount is one filesystem mount of a service container.
type Mount struct {
	Type     string
	Source   string
	Target   string
	ReadOnly bool
}

// ConfigFile places a configuration artifact at Target inside the
// container.
type ConfigFile struct {
	ConfigID   string
	ConfigName string
	Target     string
}

// Endpoint resolution modes.
const (
	// EndpointVIP assigns a virtual IP and publishes Ports.
	EndpointVIP = "vip"
	// EndpointDNSRR resolves the service name round-robin to task IPs
	// and publishes nothing.
	EndpointDNSRR = "dnsrr"
)

// Endpoint is a service's network endpoint.
type Endpoint struct {
	Mode  string
	Ports []PortMapping
}

// PortMapping publishes container port Target as Published.
type PortMapping struct {
	Target    uint32
	Published uint32
}

// Healthcheck is a command-based container probe.
type Healthcheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// Service is a listed service.
type Service struct {
	ID   string
	Spec ServiceSpec
}

// Task states reported by the engine.
const (
	TaskRunning  = "running"
	TaskComplete = "complete"
	TaskFailed   = "failed"
	TaskRejected = "rejected"
	TaskShutdown = "shutdown"
)

// Task is one scheduled instance of a service.
type Task struct {
	ID        string
	ServiceID string
	State     string
	// DesiredState is the state the engine is driving the task toward.
	// A replaced task keeps its last State with DesiredState
	// [TaskShutdown].
	DesiredState string
	// Error is the engine's failure message for failed or rejected
	// tasks.
	Error string
}

// Current reports whether the engine still wants the task running,
// as opposed to a task kept in the service's history.
func (t Task) Current() bool {
	return t.DesiredState == "" || t.DesiredState == TaskRunning
}
