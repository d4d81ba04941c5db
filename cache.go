// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// PropertiesStore is a small JSON key/value file shared by the web service
// and the refresh command.
type PropertiesStore struct {
	filePath string
	values   map[string]string
	mutex    sync.RWMutex
	logger   *Logger
}

// NewPropertiesStore opens the properties file at path, creating nothing until
// the first Set.
func NewPropertiesStore(path string, logger *Logger) *PropertiesStore {
	store := &PropertiesStore{
		filePath: path,
		values:   make(map[string]string),
		logger:   logger,
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to load properties, starting empty", "path", path, "error", err)
		}
	}

	logger.Debug("Properties loaded", "path", path, "entries", len(store.values))
	return store
}

// Get returns the value stored under key
func (p *PropertiesStore) Get(key string) (string, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key and persists the whole file
func (p *PropertiesStore) Set(key, value string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	previous, existed := p.values[key]
	p.values[key] = value

	if err := p.save(); err != nil {
		if existed {
			p.values[key] = previous
		} else {
			delete(p.values, key)
		}
		return err
	}

	p.logger.Debug("Property set", "key", key, "value", value)
	return nil
}

// All returns a copy of every property
func (p *PropertiesStore) All() map[string]string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return maps.Clone(p.values)
}

// load reads the properties from disk
func (p *PropertiesStore) load() error {
	data, err := os.ReadFile(p.filePath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &p.values); err != nil {
		return fmt.Errorf("failed to unmarshal properties file: %w", err)
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}

	return nil
}

// save writes the properties through a temporary file (must be called with lock held)
func (p *PropertiesStore) save() error {
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return &StorageError{Operation: "encode_properties", Path: p.filePath, Err: err}
	}

	if err := writeFileAtomic(p.filePath, data); err != nil {
		return &StorageError{Operation: "write_properties", Path: p.filePath, Err: err}
	}

	return nil
}

// writeFileAtomic replaces path with data so readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
