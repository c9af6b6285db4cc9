// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package enginetest provides an in-process [engine.Engine] for tests.
//
// [Engine] keeps images, networks, configuration artifacts, and
// services in maps and schedules tasks synchronously: a long-running
// service gets one running task per replica, a one-shot service
// (restart policy "none") gets completed tasks. Tests override task
// states with [Engine.SetTaskState] and inject failures per method
// with [Engine.Fail].
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/scanfleet/engine"
)

// Compile-time interface check.
var _ engine.Engine = (*Engine)(nil)

// Engine is an in-memory container engine.
type Engine struct {
	mu sync.Mutex

	nextID   int
	images   map[string]engine.Image
	networks map[string]engine.Object
	configs  map[string]engine.Object
	data     map[string][]byte
	services map[string]engine.Service

	// taskStates overrides the scheduled task state per service name.
	taskStates map[string]string
	// history holds earlier tasks listed ahead of the current ones.
	history  map[string][]engine.Task
	failures map[string]error

	clusterActive bool
	manager       bool
	initCalls     int
	pulled        []string
	// registry holds images PullImage can fetch, keyed by reference.
	registry map[string]map[string]string
}

// New returns an engine with an active single-node cluster and no
// images.
func New() *Engine {
	return &Engine{
		images:        make(map[string]engine.Image),
		networks:      make(map[string]engine.Object),
		configs:       make(map[string]engine.Object),
		data:          make(map[string][]byte),
		services:      make(map[string]engine.Service),
		taskStates:    make(map[string]string),
		history:       make(map[string][]engine.Task),
		failures:      make(map[string]error),
		registry:      make(map[string]map[string]string),
		clusterActive: true,
		manager:       true,
	}
}

// AddImage makes a local image available under reference. The
// reference gets a ":latest" tag when it has none.
func (e *Engine) AddImage(reference string, labels map[string]string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addImageLocked(reference, labels)
}

func (e *Engine) addImageLocked(reference string, labels map[string]string) string {
	id := e.newIDLocked("sha256:")
	e.images[id] = engine.Image{ID: id, RepoTags: []string{withTag(reference)}, Labels: labels}
	return id
}

// AddRegistryImage makes reference fetchable by PullImage.
func (e *Engine) AddRegistryImage(reference string, labels map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[withTag(reference)] = labels
}

// SetCluster sets the state reported by Info. InitCluster activates
// the cluster and makes the node a manager.
func (e *Engine) SetCluster(active, manager bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clusterActive = active
	e.manager = manager
}

// InitCalls returns how many times InitCluster ran.
func (e *Engine) InitCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initCalls
}

// Pulled returns the references fetched by PullImage, in order.
func (e *Engine) Pulled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pulled...)
}

// SetTaskState makes every task of the named service report state.
// It applies to services created before and after the call.
func (e *Engine) SetTaskState(serviceName, state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.taskStates[serviceName] = state
}

// AddTaskHistory records tasks that ServiceTasks lists ahead of the
// named service's current tasks, as a cluster keeps replaced tasks
// after a restart.
func (e *Engine) AddTaskHistory(serviceName string, tasks ...engine.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[serviceName] = append(e.history[serviceName], tasks...)
}

// Fail makes every subsequent call to method return err. Method is
// the Engine method name, e.g. "CreateService". A nil err clears the
// failure.
func (e *Engine) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, method)
		return
	}
	e.failures[method] = err
}

// ConfigData returns the content of the configuration artifact with
// the given name.
func (e *Engine) ConfigData(name string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, config := range e.configs {
		if config.Name == name {
			return append([]byte(nil), e.data[id]...), true
		}
	}
	return nil, false
}

// Objects returns the names of every network, config, and service,
// sorted. Tests compare it before and after teardown.
func (e *Engine) Objects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, network := range e.networks {
		names = append(names, "network/"+network.Name)
	}
	for _, config := range e.configs {
		names = append(names, "config/"+config.Name)
	}
	for _, service := range e.services {
		names = append(names, "service/"+service.Spec.Name)
	}
	sort.Strings(names)
	return names
}

// Labels returns the labels of every network, config, and service,
// keyed like [Engine.Objects].
func (e *Engine) Labels() map[string]map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	labels := make(map[string]map[string]string)
	for _, network := range e.networks {
		labels["network/"+network.Name] = network.Labels
	}
	for _, config := range e.configs {
		labels["config/"+config.Name] = config.Labels
	}
	for _, service := range e.services {
		labels["service/"+service.Spec.Name] = service.Spec.Labels
	}
	return labels
}

// Service returns the definition of the named service.
func (e *Engine) Service(name string) (engine.ServiceSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, service := range e.services {
		if service.Spec.Name == name {
			return service.Spec, true
		}
	}
	return engine.ServiceSpec{}, false
}

func (e *Engine) Ping(context.Context) error {
	return e.failure("Ping")
}

func (e *Engine) Info(context.Context) (engine.Info, error) {
	if err := e.failure("Info"); err != nil {
		return engine.Info{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Info{ClusterActive: e.clusterActive, Manager: e.manager}, nil
}

func (e *Engine) InitCluster(context.Context) error {
	if err := e.failure("InitCluster"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clusterActive {
		return fmt.Errorf("initializing cluster: node is already part of a cluster")
	}
	e.initCalls++
	e.clusterActive = true
	e.manager = true
	return nil
}

func (e *Engine) InspectImage(_ context.Context, reference string) (engine.Image, error) {
	if err := e.failure("InspectImage"); err != nil {
		return engine.Image{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if image, ok := e.images[reference]; ok {
		return image, nil
	}
	tagged := withTag(reference)
	for _, image := range e.images {
		for _, tag := range image.RepoTags {
			if tag == tagged {
				return image, nil
			}
		}
	}
	return engine.Image{}, fmt.Errorf("inspecting image %s: %w", reference, engine.ErrNotFound)
}

func (e *Engine) ListImages(context.Context) ([]engine.Image, error) {
	if err := e.failure("ListImages"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	images := make([]engine.Image, 0, len(e.images))
	for _, image := range e.images {
		images = append(images, image)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })
	return images, nil
}

func (e *Engine) PullImage(_ context.Context, reference string) error {
	if err := e.failure("PullImage"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	labels, ok := e.registry[withTag(reference)]
	if !ok {
		return fmt.Errorf("pulling %s: %w", reference, engine.ErrNotFound)
	}
	e.pulled = append(e.pulled, reference)
	e.addImageLocked(reference, labels)
	return nil
}

func (e *Engine) CreateNetwork(_ context.Context, spec engine.NetworkSpec) (string, error) {
	if err := e.failure("CreateNetwork"); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, network := range e.networks {
		if network.Name == spec.Name {
			return "", fmt.Errorf("creating network %s: name already in use", spec.Name)
		}
	}
	id := e.newIDLocked("net-")
	e.networks[id] = engine.Object{ID: id, Name: spec.Name, Labels: copyLabels(spec.Labels)}
	return id, nil
}

func (e *Engine) ListNetworks(context.Context) ([]engine.Object, error) {
	if err := e.failure("ListNetworks"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedObjects(e.networks), nil
}

func (e *Engine) RemoveNetwork(_ context.Context, id string) error {
	if err := e.failure("RemoveNetwork"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	network, ok := e.networks[id]
	if !ok {
		return fmt.Errorf("removing network %s: %w", id, engine.ErrNotFound)
	}
	for _, service := range e.services {
		for _, attached := range service.Spec.Networks {
			if attached == network.Name || attached == id {
				return fmt.Errorf("removing network %s: in use by service %s", network.Name, service.Spec.Name)
			}
		}
	}
	delete(e.networks, id)
	return nil
}

func (e *Engine) CreateConfig(_ context.Context, spec engine.ConfigSpec) (string, error) {
	if err := e.failure("CreateConfig"); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, config := range e.configs {
		if config.Name == spec.Name {
			return "", fmt.Errorf("creating config %s: name already in use", spec.Name)
		}
	}
	id := e.newIDLocked("cfg-")
	e.configs[id] = engine.Object{ID: id, Name: spec.Name, Labels: copyLabels(spec.Labels)}
	e.data[id] = append([]byte(nil), spec.Data...)
	return id, nil
}

func (e *Engine) ListConfigs(context.Context) ([]engine.Object, error) {
	if err := e.failure("ListConfigs"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedObjects(e.configs), nil
}

func (e *Engine) RemoveConfig(_ context.Context, id string) error {
	if err := e.failure("RemoveConfig"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	config, ok := e.configs[id]
	if !ok {
		return fmt.Errorf("removing config %s: %w", id, engine.ErrNotFound)
	}
	for _, service := range e.services {
		for _, file := range service.Spec.Configs {
			if file.ConfigID == id {
				return fmt.Errorf("removing config %s: in use by service %s", config.Name, service.Spec.Name)
			}
		}
	}
	delete(e.configs, id)
	delete(e.data, id)
	return nil
}

func (e *Engine) CreateService(_ context.Context, spec engine.ServiceSpec) (string, error) {
	if err := e.failure("CreateService"); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, service := range e.services {
		if service.Spec.Name == spec.Name {
			return "", fmt.Errorf("creating service %s: name already in use", spec.Name)
		}
	}
	for _, file := range spec.Configs {
		if _, ok := e.configs[file.ConfigID]; !ok {
			return "", fmt.Errorf("creating service %s: config %s: %w", spec.Name, file.ConfigID, engine.ErrNotFound)
		}
	}
	spec.Labels = copyLabels(spec.Labels)
	id := e.newIDLocked("svc-")
	e.services[id] = engine.Service{ID: id, Spec: spec}
	return id, nil
}

func (e *Engine) ListServices(context.Context) ([]engine.Service, error) {
	if err := e.failure("ListServices"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	services := make([]engine.Service, 0, len(e.services))
	for _, service := range e.services {
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

func (e *Engine) RemoveService(_ context.Context, id string) error {
	if err := e.failure("RemoveService"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.services[id]; !ok {
		return fmt.Errorf("removing service %s: %w", id, engine.ErrNotFound)
	}
	delete(e.services, id)
	return nil
}

func (e *Engine) ServiceTasks(_ context.Context, serviceID string) ([]engine.Task, error) {
	if err := e.failure("ServiceTasks"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	service, ok := e.services[serviceID]
	if !ok {
		return nil, fmt.Errorf("listing tasks of %s: %w", serviceID, engine.ErrNotFound)
	}
	state, overridden := e.taskStates[service.Spec.Name]
	if !overridden {
		state = engine.TaskRunning
		if service.Spec.RestartPolicy == "none" {
			state = engine.TaskComplete
		}
	}
	tasks := make([]engine.Task, 0, len(e.history[service.Spec.Name])+int(service.Spec.Replicas))
	for _, task := range e.history[service.Spec.Name] {
		task.ServiceID = serviceID
		tasks = append(tasks, task)
	}
	for i := uint64(0); i < service.Spec.Replicas; i++ {
		task := engine.Task{
			ID:        fmt.Sprintf("%s.%d", serviceID, i+1),
			ServiceID: serviceID,
			State:     state,
		}
		if state == engine.TaskFailed || state == engine.TaskRejected {
			task.Error = "task exited with non-zero status"
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (e *Engine) failure(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[method]
}

func (e *Engine) newIDLocked(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s%06d", prefix, e.nextID)
}

func withTag(reference string) string {
	if strings.Contains(reference[strings.LastIndex(reference, "/")+1:], ":") {
		return reference
	}
	return reference + ":latest"
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	clone := make(map[string]string, len(labels))
	for key, value := range labels {
		clone[key] = value
	}
	return clone
}

func sortedObjects(objects map[string]engine.Object) []engine.Object {
	result := make([]engine.Object, 0, len(objects))
	for _, object := range objects {
		result = append(result, object)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
