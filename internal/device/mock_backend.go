/*
 * This file is part of Murmur (https://github.com/murmurlabs/murmur).
 * Copyright (C) 2025 Murmur Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package device

import (
	"fmt"
	"sync"
)

// MockBackend implements Backend for testing without hardware
// dependencies. Tests configure its device list, inject errors, and
// drive the capture callback by pushing frames.
type MockBackend struct {
	mu          sync.Mutex
	initialized bool
	devices     []Info
	initError   error
	enumError   error
	openError   error
	startError  error
	initCount   int
	termCount   int
	streams     []*MockStream
}

// NewMockBackend creates a mock backend with no devices.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// SetDevices replaces the enumerated device list.
func (m *MockBackend) SetDevices(devices []Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

// SetInitError configures Initialize to fail.
func (m *MockBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetEnumError configures Devices to fail.
func (m *MockBackend) SetEnumError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumError = err
}

// SetOpenError configures OpenCapture to fail.
func (m *MockBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// SetStartError configures opened streams to fail on Start.
func (m *MockBackend) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// InitCount reports how many times Initialize succeeded.
func (m *MockBackend) InitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCount
}

// TerminateCount reports how many times Terminate was called.
func (m *MockBackend) TerminateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.termCount
}

// Streams returns all streams opened so far, newest last.
func (m *MockBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Initialize initializes the mock audio subsystem.
func (m *MockBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initError != nil {
		return m.initError
	}
	m.initialized = true
	m.initCount++
	return nil
}

// Terminate terminates the mock audio subsystem.
func (m *MockBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.termCount++
	return nil
}

// Devices returns the configured device list.
func (m *MockBackend) Devices() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, fmt.Errorf("mock backend not initialized")
	}
	if m.enumError != nil {
		return nil, m.enumError
	}
	out := make([]Info, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// OpenCapture opens a mock stream whose callback tests drive directly.
func (m *MockBackend) OpenCapture(info Info, cfg StreamConfig, cb DataCallback) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, fmt.Errorf("mock backend not initialized")
	}
	if m.openError != nil {
		return nil, m.openError
	}
	s := &MockStream{
		Device:     info,
		Config:     cfg,
		cb:         cb,
		startError: m.startError,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// MockStream is a capture stream whose render cycles are driven by the
// test through PushFrames.
type MockStream struct {
	Device Info
	Config StreamConfig

	mu         sync.Mutex
	cb         DataCallback
	startError error
	started    bool
	closed     bool
	stopCount  int
}

// Start starts the mock stream.
func (s *MockStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startError != nil {
		return s.startError
	}
	s.started = true
	return nil
}

// Stop stops the mock stream.
func (s *MockStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.stopCount++
	return nil
}

// Close releases the mock stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.started = false
	return nil
}

// Started reports whether the stream is running.
func (s *MockStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PushFrames simulates one render cycle, invoking the data callback the
// way the real-time thread would.
func (s *MockStream) PushFrames(frames []byte, frameCount uint32) {
	s.mu.Lock()
	cb := s.cb
	started := s.started
	s.mu.Unlock()
	if started && cb != nil {
		cb(frames, frameCount)
	}
}
