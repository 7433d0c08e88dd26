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

// This file implements the optional snapshot mirror. After every durable
// file write the runner can publish the serialized job to Redis so remote
// dashboards see progress without touching the instrument. The file remains
// the sole source of truth; mirror failures are reported but never fail a
// run. Each snapshot's commit id is derived from its content, so retrying a
// publish of the same logical snapshot is a no-op.
package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var timeNow = time.Now

// Mirror publishes serialized job snapshots to an external viewer store.
type Mirror interface {
	Publish(ctx context.Context, jobName string, doc []byte) error
}

// RedisCommander abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 or any equivalent.
type RedisCommander interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// GoRedisCommander wraps github.com/redis/go-redis/v9 to satisfy
// RedisCommander. Construct with NewGoRedisCommander and an address like
// "127.0.0.1:6379".
type GoRedisCommander struct{ c *redis.Client }

func NewGoRedisCommander(addr string) *GoRedisCommander {
	return &GoRedisCommander{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisCommander) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return g.c.SetNX(ctx, key, value, ttl).Result()
}

func (g *GoRedisCommander) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return g.c.Set(ctx, key, value, ttl).Err()
}

// Keys layout helpers (public for interoperability with dashboard readers).
func RedisSnapshotKey(jobName string) string { return fmt.Sprintf("washer:job:%s", jobName) }
func RedisSnapshotMarkerKey(jobName, commitID string) string {
	return fmt.Sprintf("washer:job:%s:snapshot:%s", jobName, commitID)
}

// RedisMirror publishes the latest snapshot under a stable key. A
// per-snapshot marker (SETNX + TTL) makes publishes idempotent: the commit
// id is a digest of the serialized document, so a retry of the same snapshot
// finds its marker already set and skips the write.
type RedisMirror struct {
	client    RedisCommander
	markerTTL time.Duration
}

// NewRedisMirror returns a mirror with the given client and marker TTL.
// markerTTL guards against unbounded growth of snapshot markers; choose a
// duration comfortably larger than your maximum retry window.
func NewRedisMirror(client RedisCommander, markerTTL time.Duration) *RedisMirror {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisMirror{client: client, markerTTL: markerTTL}
}

// snapshotCommitID derives the idempotency key for a snapshot from its
// content. Identical documents map to the same id across retries and
// restarts; any change to the job (a new event, an advanced resume step)
// yields a new one.
func snapshotCommitID(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:16])
}

func (m *RedisMirror) Publish(ctx context.Context, jobName string, doc []byte) error {
	commitID := snapshotCommitID(doc)
	applied, err := m.client.SetNX(ctx, RedisSnapshotMarkerKey(jobName, commitID), 1, m.markerTTL)
	if err != nil {
		return fmt.Errorf("redis setnx job=%s commit=%s: %w", jobName, commitID, err)
	}
	if !applied {
		return nil
	}
	if err := m.client.Set(ctx, RedisSnapshotKey(jobName), doc, 0); err != nil {
		return fmt.Errorf("redis set job=%s commit=%s: %w", jobName, commitID, err)
	}
	return nil
}

// BuildMirror constructs a Mirror based on a string selector.
// Supported kinds:
//   - "" or "none": no mirroring
//   - "redis": RedisMirror against the given address
func BuildMirror(kind, addr string, markerTTL time.Duration) (Mirror, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "redis":
		if addr == "" {
			return nil, fmt.Errorf("redis mirror requires an address")
		}
		return NewRedisMirror(NewGoRedisCommander(addr), markerTTL), nil
	default:
		return nil, fmt.Errorf("unknown mirror kind: %s", kind)
	}
}
