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
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

var (
	// ErrDeviceNotFound means no device matched the identifier, even
	// after the substring name fallback.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAudioUnitInit means the capture stream could not be opened
	// or started on the resolved device.
	ErrAudioUnitInit = errors.New("audio unit init failed")
	// ErrStreamFormat means the device reported an unusable native
	// format (typically a zero sample rate from an inactive device).
	ErrStreamFormat = errors.New("stream format failed")
)

// FrameHandler receives one filled arena frame per render cycle. It is
// invoked from the real-time audio thread and must hand off quickly;
// the receiver releases the frame when done with it.
type FrameHandler func(f *Frame)

// arenaSlots bounds how many render cycles may be in flight between the
// audio thread and the processing queue before cycles are dropped.
const arenaSlots = 8

// Capture attaches to one named loopback/virtual device and delivers
// its raw native-format frames. It does no resampling itself: the
// stream is opened at the device's exact native format and conversion
// happens downstream in an explicitly owned converter.
type Capture struct {
	backend  Backend
	onFrames FrameHandler

	mu      sync.Mutex
	stream  Stream
	native  audio.NativeFormat
	arena   *frameArena
	opened  bool
	started bool

	dropped atomic.Uint64
}

// NewCapture wires a capture unit to a backend. onFrames fires on the
// real-time thread once the unit is running.
func NewCapture(backend Backend, onFrames FrameHandler) *Capture {
	return &Capture{backend: backend, onFrames: onFrames}
}

// Start resolves, opens, and runs the capture in one call.
func (c *Capture) Start(deviceIdentifier string) error {
	if err := c.Open(deviceIdentifier); err != nil {
		return err
	}
	return c.Run()
}

// Open resolves the device, validates its native format, and opens the
// capture stream without starting it. After Open returns, NativeFormat
// is valid; no frames are delivered until Run.
func (c *Capture) Open(deviceIdentifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("capture already open: %w", ErrAudioUnitInit)
	}

	if err := c.backend.Initialize(); err != nil {
		return fmt.Errorf("initialize audio backend: %w", err)
	}

	devices, err := c.backend.Devices()
	if err != nil {
		c.backend.Terminate()
		return fmt.Errorf("enumerate devices: %w", err)
	}

	info, err := resolve(devices, deviceIdentifier)
	if err != nil {
		c.backend.Terminate()
		return err
	}

	// Queried once and cached; re-derived on every start, never
	// persisted across restarts.
	if info.SampleRate <= 0 {
		c.backend.Terminate()
		return fmt.Errorf("device %q reports zero sample rate: %w", info.Name, ErrStreamFormat)
	}
	c.native = audio.NativeFormat{
		SampleRate: info.SampleRate,
		Channels:   info.InputChannels,
		Format:     info.Format,
	}

	// Worst case one render cycle: 100 ms of native frames.
	slotBytes := int(info.SampleRate/10) * info.InputChannels * info.Format.BytesPerSample()
	c.arena = newFrameArena(slotBytes, arenaSlots)

	cfg := StreamConfig{
		SampleRate:   info.SampleRate,
		Channels:     info.InputChannels,
		Format:       info.Format,
		PeriodFrames: int(info.SampleRate / 10),
	}
	stream, err := c.backend.OpenCapture(info, cfg, c.render)
	if err != nil {
		c.backend.Terminate()
		return fmt.Errorf("open capture on %q: %w: %v", info.Name, ErrAudioUnitInit, err)
	}

	c.stream = stream
	c.opened = true
	log.Printf("🔊 Device capture open: %q (%.0f Hz, %d ch, %s)",
		info.Name, info.SampleRate, info.InputChannels, info.Format)
	return nil
}

// Run starts frame delivery on an opened capture.
func (c *Capture) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return fmt.Errorf("capture not open: %w", ErrAudioUnitInit)
	}
	if c.started {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("start capture stream: %w: %v", ErrAudioUnitInit, err)
	}
	c.started = true
	return nil
}

// Stop tears down the audio unit. Idempotent, callable from any thread,
// and does not wait on a callback already executing.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return
	}
	if c.started {
		if err := c.stream.Stop(); err != nil {
			log.Printf("⚠️  Device capture stop: %v", err)
		}
	}
	if err := c.stream.Close(); err != nil {
		log.Printf("⚠️  Device capture close: %v", err)
	}
	c.stream = nil
	c.opened = false
	c.started = false
	c.backend.Terminate()

	if n := c.dropped.Swap(0); n > 0 {
		log.Printf("⚠️  Device capture dropped %d render cycles (queue backpressure)", n)
	}
}

// NativeFormat returns the cached native format. Valid after Open.
func (c *Capture) NativeFormat() audio.NativeFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native
}

// Dropped reports render cycles discarded because the arena was
// exhausted.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// render runs on the real-time audio thread: acquire a pre-allocated
// slot, copy the native buffer, hand off. No allocation, no blocking,
// no panic escapes.
func (c *Capture) render(frames []byte, frameCount uint32) {
	f, ok := c.arena.acquire()
	if !ok {
		c.dropped.Add(1)
		return
	}
	f.write(frames)
	c.onFrames(f)
}

// resolve finds the target device by exact identifier first, then falls
// back to a substring name search to tolerate identifier drift across
// OS and driver versions. A name match must still report input
// channels: an output-only device is rejected even when the name fits.
func resolve(devices []Info, identifier string) (Info, error) {
	for _, d := range devices {
		if d.ID == identifier && d.InputChannels > 0 {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.InputChannels > 0 && strings.Contains(d.Name, identifier) {
			log.Printf("🔍 Device %q resolved by name match: %q", identifier, d.Name)
			return d, nil
		}
	}
	return Info{}, fmt.Errorf("no capture device matches %q: %w", identifier, ErrDeviceNotFound)
}
