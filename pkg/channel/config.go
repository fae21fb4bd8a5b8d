/*
 * Copyright 2025 The procpipe Authors
 *
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

package channel

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MemMapType selects the carrier of the shared mappings.
type MemMapType int

const (
	// MemMapTypeDevShmFile backs the channel with files under Dir
	// (default /dev/shm). Peers attach by channel name.
	MemMapTypeDevShmFile MemMapType = iota
	// MemMapTypeMemFd backs the channel with anonymous memfds. Peers
	// attach through inherited descriptors; nothing touches the
	// filesystem. Linux only.
	MemMapTypeMemFd
)

// DefaultCapacity is the ring size used when the caller does not pick
// one. It must be large enough for the largest framed message ever
// sent, or such sends always fail with ErrBufferFull.
const DefaultCapacity = 2 << 30 // 2 GiB

// Config carries channel creation parameters.
type Config struct {
	// Capacity is the ring size in bytes.
	Capacity uint64
	// Dir is where file-backed segments live. Empty means /dev/shm when
	// available, os.TempDir() otherwise.
	Dir string
	// MemMapType selects file-backed or memfd-backed segments.
	MemMapType MemMapType
	// Codec serializes values for SendValue/ReceiveValue. The channel
	// itself only ever moves opaque bytes.
	Codec Codec
	// Meter, when set, records send/receive instruments through
	// OpenTelemetry.
	Meter metric.Meter
	// Tracer, when set, wraps SendValue/ReceiveValue in spans.
	Tracer trace.Tracer
}

// DefaultConfig returns the default channel configuration: a 2 GiB
// file-backed ring with gob serialization.
func DefaultConfig() *Config {
	return &Config{
		Capacity:   DefaultCapacity,
		MemMapType: MemMapTypeDevShmFile,
		Codec:      GobCodec{},
	}
}

// VerifyConfig validates a configuration before any resource is
// allocated.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("channel: nil config")
	}
	if c.Capacity <= prefixSize {
		return fmt.Errorf("channel: capacity %d cannot hold a single framed message (prefix is %d bytes)",
			c.Capacity, prefixSize)
	}
	if c.Capacity > 1<<62 {
		return fmt.Errorf("channel: capacity %d out of range", c.Capacity)
	}
	if c.Codec == nil {
		return fmt.Errorf("channel: nil codec")
	}
	if c.MemMapType != MemMapTypeDevShmFile && c.MemMapType != MemMapTypeMemFd {
		return fmt.Errorf("channel: unknown mem map type %d", c.MemMapType)
	}
	return nil
}

func verifyName(name string) error {
	if name == "" {
		return fmt.Errorf("channel: empty name")
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("channel: invalid name %q", name)
	}
	return nil
}
