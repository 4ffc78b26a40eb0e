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

package audio

import "time"

// Canonical wire format: every chunk handed downstream is interleaved
// 16-bit signed little-endian PCM at 16 kHz mono, 100 ms per chunk.
// The transcription client depends on these exact values.
const (
	TargetSampleRate     = 16000
	TargetChannels       = 1
	TargetBytesPerSample = 2

	ChunkDuration = 100 * time.Millisecond
	ChunkSamples  = 1600 // TargetSampleRate / 10
	ChunkBytes    = ChunkSamples * TargetBytesPerSample
)

// CaptureSource identifies which pipeline produced a chunk. The two
// sources are independent streams and are never mixed.
type CaptureSource int

const (
	SourceMicrophone CaptureSource = iota
	SourceSystemAudio
)

func (s CaptureSource) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceSystemAudio:
		return "system_audio"
	default:
		return "unknown"
	}
}

// SampleFormat describes how a device represents individual samples.
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota
	FormatInt16
)

func (f SampleFormat) String() string {
	switch f {
	case FormatFloat32:
		return "float32"
	case FormatInt16:
		return "int16"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the on-wire size of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	if f == FormatFloat32 {
		return 4
	}
	return 2
}

// NativeFormat is the format a device actually delivers. It is queried
// once at pipeline start and never persisted across restarts.
type NativeFormat struct {
	SampleRate float64
	Channels   int
	Format     SampleFormat
}
