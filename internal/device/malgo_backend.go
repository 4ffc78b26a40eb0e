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

	"github.com/gen2brain/malgo"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// MalgoBackend implements Backend on miniaudio, which exposes loopback
// and virtual capture devices uniformly across platforms.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	ids map[string]malgo.DeviceID
}

// NewMalgoBackend creates a miniaudio-backed device backend.
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{ids: make(map[string]malgo.DeviceID)}
}

// Initialize brings up the miniaudio context.
func (b *MalgoBackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	b.ctx = ctx
	return nil
}

// Terminate tears the context down.
func (b *MalgoBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// Devices enumerates capture-visible devices with their native formats.
func (b *MalgoBackend) Devices() ([]Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil, fmt.Errorf("miniaudio context not initialized")
	}

	raw, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	infos := make([]Info, 0, len(raw))
	for _, d := range raw {
		id := fmt.Sprintf("%x", d.ID)
		b.ids[id] = d.ID

		info := Info{
			ID:            id,
			Name:          d.Name(),
			InputChannels: 2,
			SampleRate:    48000,
			Format:        audio.FormatFloat32,
			IsDefault:     d.IsDefault != 0,
		}

		// Native format per device; enumeration alone does not
		// carry it on every platform.
		if full, err := b.ctx.DeviceInfo(malgo.Capture, d.ID, malgo.Shared); err == nil && len(full.Formats) > 0 {
			f := full.Formats[0]
			info.InputChannels = int(f.Channels)
			info.SampleRate = float64(f.SampleRate)
			if malgo.FormatType(f.Format) == malgo.FormatS16 {
				info.Format = audio.FormatInt16
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// OpenCapture opens a capture stream at the device's native format.
func (b *MalgoBackend) OpenCapture(info Info, cfg StreamConfig, cb DataCallback) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil, fmt.Errorf("miniaudio context not initialized")
	}
	id, ok := b.ids[info.ID]
	if !ok {
		return nil, fmt.Errorf("unknown device id %q", info.ID)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Capture.Channels = uint32(cfg.Channels)
	dc.Capture.DeviceID = id.Pointer()
	dc.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	if cfg.Format == audio.FormatInt16 {
		dc.Capture.Format = malgo.FormatS16
	} else {
		dc.Capture.Format = malgo.FormatF32
	}
	dc.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(b.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			cb(input, frameCount)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device %q: %w", info.Name, err)
	}
	return &malgoStream{dev: dev}, nil
}

type malgoStream struct {
	dev *malgo.Device
}

func (s *malgoStream) Start() error {
	return s.dev.Start()
}

func (s *malgoStream) Stop() error {
	return s.dev.Stop()
}

func (s *malgoStream) Close() error {
	s.dev.Uninit()
	return nil
}
