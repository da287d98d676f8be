/*
 * Copyright 2026 the Colibri Authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"reflect"
	"sort"
	"sync"
)

var defaultRegistry = newModelRegistry()

// SQLModel represents a database model used for automatic migration and
// initialization. Instance returns a struct pointer compatible with Bun,
// and Priority controls ordering when creating tables (lower values first).
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry maps logical entity names to their model definitions and
// exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	RegisterNamed(name string, model SQLModel)
	Models() []SQLModel
	Lookup(name string) (SQLModel, bool)
	Names() []string
}

type modelRegistry struct {
	models []SQLModel
	byName map[string]SQLModel
	mutex  sync.RWMutex
}

func newModelRegistry() ModelRegistry {
	return &modelRegistry{
		models: make([]SQLModel, 0),
		byName: make(map[string]SQLModel),
	}
}

func (r *modelRegistry) Register(model SQLModel) {
	r.RegisterNamed(modelName(model.Instance()), model)
}

func (r *modelRegistry) RegisterNamed(name string, model SQLModel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if prev, ok := r.byName[name]; ok {
		// Re-registration replaces the previous definition.
		for i, m := range r.models {
			if m == prev {
				r.models[i] = model
				r.byName[name] = model
				return
			}
		}
	}
	r.models = append(r.models, model)
	r.byName[name] = model
}

func (r *modelRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

func (r *modelRegistry) Lookup(name string) (SQLModel, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

func (r *modelRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// modelName derives a logical entity name from the struct type.
func modelName(instance interface{}) string {
	t := reflect.TypeOf(instance)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ModelAdapter wraps a plain struct instance into an SQLModel.
type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct instance and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

// Instance returns the underlying struct used for migrations/initialization.
func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

// Priority returns the model's ordering value; lower values run earlier.
func (a *ModelAdapter) Priority() int {
	return a.priority
}

// GetRegisteredModels returns all models registered in the default registry
// sorted by ascending priority.
func GetRegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModel adds a model to the default registry under the name of
// its struct type.
func RegisteredModel(model SQLModel) {
	defaultRegistry.Register(model)
}

// RegisterNamedModel adds a model instance to the default registry under an
// explicit logical entity name.
func RegisterNamedModel(name string, instance interface{}, priority int) {
	defaultRegistry.RegisterNamed(name, NewModelAdapter(instance, priority))
}

// LookupModel returns the model instance registered under name.
func LookupModel(name string) (interface{}, bool) {
	m, ok := defaultRegistry.Lookup(name)
	if !ok {
		return nil, false
	}
	return m.Instance(), true
}

// RegisteredModelNames lists the logical entity names in the default
// registry in lexical order.
func RegisteredModelNames() []string {
	return defaultRegistry.Names()
}

// RegisteredModelInstances returns the raw struct instances in priority
// order, ready to pass to bun.DB.RegisterModel.
func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	modelInstances := make([]interface{}, len(models))
	for i, model := range models {
		modelInstances[i] = model.Instance()
	}
	return modelInstances
}

// resetModelRegistry clears the default registry, for tests.
func resetModelRegistry() {
	defaultRegistry = newModelRegistry()
}
