// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// Compile-time interface check.
var _ Engine = (*Docker)(nil)

// configFileMode is the permission of configuration artifacts inside
// containers. Agents run as arbitrary users, so the files are
// world-readable.
const configFileMode os.FileMode = 0o444

// Docker is an Engine backed by a Docker daemon in swarm mode.
type Docker struct {
	client *client.Client
	logger *slog.Logger
}

// NewDocker connects to the daemon named by host, or by the standard
// DOCKER_* environment variables when host is empty. The API version
// is negotiated with the daemon.
func NewDocker(host string, logger *slog.Logger) (*Docker, error) {
	options := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		options = append(options, client.WithHost(host))
	}
	dockerClient, err := client.NewClientWithOpts(options...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Docker{client: dockerClient, logger: logger}, nil
}

// Close releases the client's connections.
func (d *Docker) Close() error {
	return d.client.Close()
}

// translate maps daemon errors onto the package's sentinel errors.
func translate(err error, action string) error {
	if err == nil {
		return nil
	}
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w: %v", action, ErrNotFound, err)
	case errdefs.IsForbidden(err), errdefs.IsUnauthorized(err), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w: %v", action, ErrPermission, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w: %v", action, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return translate(err, "ping")
}

func (d *Docker) Info(ctx context.Context) (Info, error) {
	info, err := d.client.Info(ctx)
	if err != nil {
		return Info{}, translate(err, "info")
	}
	return Info{
		ClusterActive: info.Swarm.LocalNodeState == swarm.LocalNodeStateActive,
		Manager:       info.Swarm.ControlAvailable,
	}, nil
}

func (d *Docker) InitCluster(ctx context.Context) error {
	nodeID, err := d.client.SwarmInit(ctx, swarm.InitRequest{
		ListenAddr:    "0.0.0.0:2377",
		AdvertiseAddr: "127.0.0.1",
	})
	if err != nil {
		return translate(err, "initializing swarm")
	}
	d.logger.Info("initialized single-node swarm", "node_id", nodeID)
	return nil
}

func (d *Docker) InspectImage(ctx context.Context, reference string) (Image, error) {
	inspect, _, err := d.client.ImageInspectWithRaw(ctx, reference)
	if err != nil {
		return Image{}, translate(err, "inspecting image "+reference)
	}
	result := Image{ID: inspect.ID, RepoTags: inspect.RepoTags}
	if inspect.Config != nil {
		result.Labels = inspect.Config.Labels
	}
	return result, nil
}

func (d *Docker) ListImages(ctx context.Context) ([]Image, error) {
	summaries, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, translate(err, "listing images")
	}
	images := make([]Image, 0, len(summaries))
	for _, summary := range summaries {
		images = append(images, Image{ID: summary.ID, RepoTags: summary.RepoTags, Labels: summary.Labels})
	}
	return images, nil
}

func (d *Docker) PullImage(ctx context.Context, reference string) error {
	progress, err := d.client.ImagePull(ctx, reference, image.PullOptions{})
	if err != nil {
		return translate(err, "pulling "+reference)
	}
	defer progress.Close()
	// The pull completes when the progress stream is drained.
	if _, err := io.Copy(io.Discard, progress); err != nil {
		return fmt.Errorf("pulling %s: %w", reference, err)
	}
	return nil
}

func (d *Docker) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	response, err := d.client.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:     spec.Driver,
		Attachable: spec.Attachable,
		Labels:     spec.Labels,
	})
	if err != nil {
		return "", translate(err, "creating network "+spec.Name)
	}
	return response.ID, nil
}

func (d *Docker) ListNetworks(ctx context.Context) ([]Object, error) {
	networks, err := d.client.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, translate(err, "listing networks")
	}
	objects := make([]Object, 0, len(networks))
	for _, listed := range networks {
		objects = append(objects, Object{ID: listed.ID, Name: listed.Name, Labels: listed.Labels})
	}
	return objects, nil
}

func (d *Docker) RemoveNetwork(ctx context.Context, id string) error {
	return translate(d.client.NetworkRemove(ctx, id), "removing network "+id)
}

func (d *Docker) CreateConfig(ctx context.Context, spec ConfigSpec) (string, error) {
	response, err := d.client.ConfigCreate(ctx, swarm.ConfigSpec{
		Annotations: swarm.Annotations{Name: spec.Name, Labels: spec.Labels},
		Data:        spec.Data,
	})
	if err != nil {
		return "", translate(err, "creating config "+spec.Name)
	}
	return response.ID, nil
}

func (d *Docker) ListConfigs(ctx context.Context) ([]Object, error) {
	configs, err := d.client.ConfigList(ctx, types.ConfigListOptions{})
	if err != nil {
		return nil, translate(err, "listing configs")
	}
	objects := make([]Object, 0, len(configs))
	for _, config := range configs {
		objects = append(objects, Object{
			ID:     config.ID,
			Name:   config.Spec.Annotations.Name,
			Labels: config.Spec.Annotations.Labels,
		})
	}
	return objects, nil
}

func (d *Docker) RemoveConfig(ctx context.Context, id string) error {
	return translate(d.client.ConfigRemove(ctx, id), "removing config "+id)
}

func (d *Docker) CreateService(ctx context.Context, spec ServiceSpec) (string, error) {
	response, err := d.client.ServiceCreate(ctx, toSwarmSpec(spec), types.ServiceCreateOptions{})
	if err != nil {
		return "", translate(err, "creating service "+spec.Name)
	}
	for _, warning := range response.Warnings {
		d.logger.Warn("service create warning", "service", spec.Name, "warning", warning)
	}
	return response.ID, nil
}

func (d *Docker) ListServices(ctx context.Context) ([]Service, error) {
	services, err := d.client.ServiceList(ctx, types.ServiceListOptions{})
	if err != nil {
		return nil, translate(err, "listing services")
	}
	result := make([]Service, 0, len(services))
	for _, service := range services {
		result = append(result, Service{ID: service.ID, Spec: fromSwarmSpec(service.Spec)})
	}
	return result, nil
}

func (d *Docker) RemoveService(ctx context.Context, id string) error {
	return translate(d.client.ServiceRemove(ctx, id), "removing service "+id)
}

func (d *Docker) ServiceTasks(ctx context.Context, serviceID string) ([]Task, error) {
	tasks, err := d.client.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", serviceID)),
	})
	if err != nil {
		return nil, translate(err, "listing tasks of "+serviceID)
	}
	result := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, Task{
			ID:           task.ID,
			ServiceID:    task.ServiceID,
			State:        string(task.Status.State),
			DesiredState: string(task.DesiredState),
			Error:        task.Status.Err,
		})
	}
	return result, nil
}

func toSwarmSpec(spec ServiceSpec) swarm.ServiceSpec {
	containerSpec := &swarm.ContainerSpec{
		Image:  spec.Image,
		Labels: spec.Labels,
		Env:    spec.Env,
		Args:   spec.Command,
	}
	for _, m := range spec.Mounts {
		mountType := mount.TypeBind
		if m.Type == MountVolume {
			mountType = mount.TypeVolume
		}
		containerSpec.Mounts = append(containerSpec.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	for _, config := range spec.Configs {
		containerSpec.Configs = append(containerSpec.Configs, &swarm.ConfigReference{
			File: &swarm.ConfigReferenceFileTarget{
				Name: config.Target,
				UID:  "0",
				GID:  "0",
				Mode: configFileMode,
			},
			ConfigID:   config.ConfigID,
			ConfigName: config.ConfigName,
		})
	}
	if spec.Healthcheck != nil {
		containerSpec.Healthcheck = &container.HealthConfig{
			Test:        spec.Healthcheck.Test,
			Interval:    spec.Healthcheck.Interval,
			Timeout:     spec.Healthcheck.Timeout,
			StartPeriod: spec.Healthcheck.StartPeriod,
			Retries:     spec.Healthcheck.Retries,
		}
	}

	taskSpec := swarm.TaskSpec{
		ContainerSpec: containerSpec,
		RestartPolicy: &swarm.RestartPolicy{Condition: swarm.RestartPolicyCondition(spec.RestartPolicy)},
		Placement:     &swarm.Placement{Constraints: spec.Constraints},
	}
	if spec.MemoryLimit > 0 {
		taskSpec.Resources = &swarm.ResourceRequirements{Limits: &swarm.Limit{MemoryBytes: spec.MemoryLimit}}
	}
	for _, networkName := range spec.Networks {
		taskSpec.Networks = append(taskSpec.Networks, swarm.NetworkAttachmentConfig{Target: networkName})
	}

	replicas := spec.Replicas
	endpoint := &swarm.EndpointSpec{Mode: swarm.ResolutionModeDNSRR}
	if spec.Endpoint.Mode == EndpointVIP {
		endpoint.Mode = swarm.ResolutionModeVIP
		for _, port := range spec.Endpoint.Ports {
			endpoint.Ports = append(endpoint.Ports, swarm.PortConfig{
				Protocol:      swarm.PortConfigProtocolTCP,
				TargetPort:    port.Target,
				PublishedPort: port.Published,
				PublishMode:   swarm.PortConfigPublishModeIngress,
			})
		}
	}

	return swarm.ServiceSpec{
		Annotations:  swarm.Annotations{Name: spec.Name, Labels: spec.Labels},
		TaskTemplate: taskSpec,
		Mode:         swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &replicas}},
		EndpointSpec: endpoint,
	}
}

func fromSwarmSpec(spec swarm.ServiceSpec) ServiceSpec {
	result := ServiceSpec{
		Name:   spec.Annotations.Name,
		Labels: spec.Annotations.Labels,
	}
	if containerSpec := spec.TaskTemplate.ContainerSpec; containerSpec != nil {
		result.Image = containerSpec.Image
		result.Env = containerSpec.Env
	}
	if policy := spec.TaskTemplate.RestartPolicy; policy != nil {
		result.RestartPolicy = string(policy.Condition)
	}
	if spec.Mode.Replicated != nil && spec.Mode.Replicated.Replicas != nil {
		result.Replicas = *spec.Mode.Replicated.Replicas
	}
	return result
}
