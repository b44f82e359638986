/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"fmt"
	"sync"
)

// Builder materializes a fresh Module value. A monitor's stored code is the
// name of its builder; the factory resolves names to builders at load time.
type Builder func() (*Module, error)

// Factory resolves stored module code to loadable modules
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory creates an empty module factory
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Builder)}
}

// Register adds a builder under the given name
func (f *Factory) Register(name string, builder Builder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == "" {
		return fmt.Errorf("builder name must not be empty")
	}
	if builder == nil {
		return fmt.Errorf("builder %q must not be nil", name)
	}
	if _, exists := f.builders[name]; exists {
		return fmt.Errorf("builder %q is already registered", name)
	}
	f.builders[name] = builder
	return nil
}

// Has reports whether a builder is registered under the name
func (f *Factory) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.builders[name]
	return exists
}

// Names returns the registered builder names
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.builders))
	for name := range f.builders {
		names = append(names, name)
	}
	return names
}

// Build materializes the module registered under the name
func (f *Factory) Build(name string) (*Module, error) {
	f.mu.RLock()
	builder, exists := f.builders[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no module builder registered for %q", name)
	}
	module, err := builder()
	if err != nil {
		return nil, fmt.Errorf("building module %q: %w", name, err)
	}
	if module == nil {
		return nil, fmt.Errorf("builder %q returned no module", name)
	}
	return module, nil
}
