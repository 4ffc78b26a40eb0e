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

package capture

import (
	"fmt"
	"sync"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// MockEngineBackend implements EngineBackend for testing without
// hardware dependencies. Tests configure its reported input format,
// inject errors, and feed frames into opened streams.
type MockEngineBackend struct {
	mu          sync.Mutex
	initialized bool
	format      audio.NativeFormat
	initError   error
	formatError error
	openError   error
	startError  error
	initCount   int
	termCount   int
	streams     []*MockInputStream
}

// NewMockEngineBackend creates a mock engine reporting 48 kHz mono
// float32 input by default.
func NewMockEngineBackend() *MockEngineBackend {
	return &MockEngineBackend{
		format: audio.NativeFormat{
			SampleRate: 48000,
			Channels:   1,
			Format:     audio.FormatFloat32,
		},
	}
}

// SetInputFormat overrides the reported default input format.
func (m *MockEngineBackend) SetInputFormat(f audio.NativeFormat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = f
}

// SetInitError configures Initialize to fail.
func (m *MockEngineBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetFormatError configures DefaultInputFormat to fail.
func (m *MockEngineBackend) SetFormatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formatError = err
}

// SetOpenError configures OpenInputStream to fail.
func (m *MockEngineBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// InitCount reports successful Initialize calls.
func (m *MockEngineBackend) InitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCount
}

// Streams returns all input streams opened so far, newest last.
func (m *MockEngineBackend) Streams() []*MockInputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockInputStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Initialize initializes the mock engine.
func (m *MockEngineBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initError != nil {
		return m.initError
	}
	m.initialized = true
	m.initCount++
	return nil
}

// Terminate terminates the mock engine.
func (m *MockEngineBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.termCount++
	return nil
}

// DefaultInputFormat returns the configured input format.
func (m *MockEngineBackend) DefaultInputFormat() (audio.NativeFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return audio.NativeFormat{}, fmt.Errorf("mock engine not initialized")
	}
	if m.formatError != nil {
		return audio.NativeFormat{}, m.formatError
	}
	return m.format, nil
}

// OpenInputStream opens a mock input stream fed via PushFrames.
func (m *MockEngineBackend) OpenInputStream(params StreamParams) (InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, fmt.Errorf("mock engine not initialized")
	}
	if m.openError != nil {
		return nil, m.openError
	}
	s := &MockInputStream{
		Params:     params,
		frames:     make(chan []float32, 16),
		quit:       make(chan struct{}),
		startError: m.startError,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// MockInputStream is an input stream whose reads are satisfied by
// test-pushed frames.
type MockInputStream struct {
	Params StreamParams

	frames     chan []float32
	quit       chan struct{}
	quitOnce   sync.Once
	startError error

	mu      sync.Mutex
	started bool
	closed  bool
}

// Start starts the mock stream.
func (s *MockInputStream) Start() error {
	if s.startError != nil {
		return s.startError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Stop stops the mock stream and unblocks pending reads.
func (s *MockInputStream) Stop() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.quitOnce.Do(func() { close(s.quit) })
	return nil
}

// Close releases the mock stream.
func (s *MockInputStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.quitOnce.Do(func() { close(s.quit) })
	return nil
}

// Started reports whether the stream is running.
func (s *MockInputStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Read blocks until a pushed frame buffer or stream teardown.
func (s *MockInputStream) Read(buf []float32) error {
	select {
	case f := <-s.frames:
		copy(buf, f)
		return nil
	case <-s.quit:
		return fmt.Errorf("stream stopped")
	}
}

// PushFrames queues one read's worth of frames for the stream.
func (s *MockInputStream) PushFrames(frames []float32) {
	f := make([]float32, len(frames))
	copy(f, frames)
	select {
	case s.frames <- f:
	case <-s.quit:
	}
}
