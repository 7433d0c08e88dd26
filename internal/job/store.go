// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// This file handles the durable on-disk form of a job. Writes are atomic
// (write-temp-then-rename) so a crash at any point leaves either the old or
// the new document, never a torn one. Readers must tolerate brief absence of
// the path during the rename.
package job

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a job document from path.
func Load(path string) (*Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var j Job
	if err := yaml.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("parsing job %s: %w", path, err)
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job %s: %w", path, err)
	}
	return &j, nil
}

// Marshal renders the job to its YAML document form.
func (j *Job) Marshal() ([]byte, error) {
	return yaml.Marshal(j)
}

// SaveAtomic serializes the job and durably replaces path with it. The
// temporary file lives in the destination directory so the rename stays on
// one filesystem.
func (j *Job) SaveAtomic(path string) error {
	doc, err := j.Marshal()
	if err != nil {
		return fmt.Errorf("serializing job %q: %w", j.Name, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp job file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp job file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp job file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing job file: %w", err)
	}
	return nil
}

// NewFromJobFile clones the job at sourcePath into a fresh job named after
// destPath's stem, with a purged history and a source_protocol descriptor
// pointing back at the original.
func NewFromJobFile(sourcePath, destPath string) (*Job, error) {
	j, err := Load(sourcePath)
	if err != nil {
		return nil, err
	}
	j.Name = stem(destPath)
	j.PurgeHistory()
	j.ClearResumeState()
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		abs = sourcePath
	}
	j.SetSourceProtocol(abs, timeNow())
	if err := j.SaveAtomic(destPath); err != nil {
		return nil, err
	}
	return j, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
