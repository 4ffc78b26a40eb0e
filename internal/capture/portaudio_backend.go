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

	"github.com/gordonklaus/portaudio"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// PortAudioBackend implements EngineBackend using the real PortAudio
// library. PortAudio performs no voice processing, so the raw-signal
// requirement in StreamParams holds by construction.
type PortAudioBackend struct {
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio engine backend.
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem.
func (p *PortAudioBackend) Initialize() error {
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem.
func (p *PortAudioBackend) Terminate() error {
	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

// DefaultInputFormat queries the default input device's native format.
func (p *PortAudioBackend) DefaultInputFormat() (audio.NativeFormat, error) {
	if !p.initialized {
		return audio.NativeFormat{}, fmt.Errorf("PortAudio not initialized")
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return audio.NativeFormat{}, fmt.Errorf("no default input device: %w", err)
	}
	channels := dev.MaxInputChannels
	if channels > 2 {
		// Multi-channel interfaces expose many inputs; two are
		// enough for a deterministic mono down-mix.
		channels = 2
	}
	return audio.NativeFormat{
		SampleRate: dev.DefaultSampleRate,
		Channels:   channels,
		Format:     audio.FormatFloat32,
	}, nil
}

// OpenInputStream creates an input stream for recording.
func (p *PortAudioBackend) OpenInputStream(params StreamParams) (InputStream, error) {
	if !p.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	inputBuffer := make([]float32, params.FramesPerBuffer*params.Channels)

	stream, err := portaudio.OpenDefaultStream(
		params.Channels, // input channels
		0,               // output channels (none for input stream)
		params.SampleRate,
		params.FramesPerBuffer,
		inputBuffer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	return &PortAudioStream{
		stream:      stream,
		inputBuffer: inputBuffer,
	}, nil
}

// PortAudioStream implements InputStream using PortAudio streams.
type PortAudioStream struct {
	stream      *portaudio.Stream
	inputBuffer []float32
}

// Start starts the audio stream.
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	return p.stream.Start()
}

// Stop stops the audio stream.
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	return p.stream.Stop()
}

// Close closes the audio stream.
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	return p.stream.Close()
}

// Read reads the next buffer of audio data from the input stream.
func (p *PortAudioStream) Read(buf []float32) error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}

	if err := p.stream.Read(); err != nil {
		return err
	}

	copy(buf, p.inputBuffer)
	return nil
}
