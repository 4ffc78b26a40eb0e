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

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrConverterCreation indicates the converter could not be built for the
// reported native format. Fatal to the owning pipeline's start only.
var ErrConverterCreation = errors.New("converter creation failed")

// DownmixPolicy selects how multi-channel native input collapses to mono.
// The policy is fixed at converter creation, never content-dependent.
type DownmixPolicy int

const (
	// DownmixAverage mixes all channels with equal weight (default).
	DownmixAverage DownmixPolicy = iota
	// DownmixChannel0 selects the first channel only. Low-CPU opt-in.
	DownmixChannel0
)

// ParseDownmixPolicy maps a config string to a policy.
func ParseDownmixPolicy(s string) (DownmixPolicy, error) {
	switch s {
	case "", "average":
		return DownmixAverage, nil
	case "channel0":
		return DownmixChannel0, nil
	default:
		return DownmixAverage, fmt.Errorf("unknown downmix policy %q", s)
	}
}

// Converter normalizes one pipeline's native stream to the canonical
// format: down-mix to mono, linear resample to 16 kHz, requantize to
// 16-bit signed PCM, and assemble exact 100 ms chunks.
//
// All scratch buffers are pre-allocated at creation and reused across
// calls. A Converter is not safe for concurrent use; each pipeline owns
// one and feeds it from a single queue.
type Converter struct {
	native NativeFormat
	policy DownmixPolicy

	// step is input samples consumed per output sample.
	step float64

	// Fractional read cursor into the mono staging buffer, measured
	// from the carry sample so interpolation is continuous across
	// buffer boundaries.
	pos     float64
	prev    float32
	hasPrev bool

	mono []float32 // down-mixed native-rate staging, reused

	chunk []byte // partially assembled canonical chunk
	fill  int
}

// NewConverter builds a converter for the given native format.
// maxFrames sizes the staging buffer for the worst-case frame count a
// single callback can deliver.
func NewConverter(native NativeFormat, policy DownmixPolicy, maxFrames int) (*Converter, error) {
	if native.SampleRate <= 0 {
		return nil, fmt.Errorf("native sample rate %.0f: %w", native.SampleRate, ErrConverterCreation)
	}
	if native.Channels <= 0 {
		return nil, fmt.Errorf("native channel count %d: %w", native.Channels, ErrConverterCreation)
	}
	if maxFrames <= 0 {
		maxFrames = int(native.SampleRate / 10) // 100 ms worth
	}
	return &Converter{
		native: native,
		policy: policy,
		step:   native.SampleRate / float64(TargetSampleRate),
		mono:   make([]float32, 0, maxFrames+1),
	}, nil
}

// NativeFormat returns the format this converter accepts.
func (c *Converter) NativeFormat() NativeFormat {
	return c.native
}

// Reset discards all carried state, as if freshly created.
func (c *Converter) Reset() {
	c.pos = 0
	c.prev = 0
	c.hasPrev = false
	c.chunk = nil
	c.fill = 0
}

// ConvertFloat32 consumes interleaved float32 frames in the native
// format and returns zero or more complete canonical chunks. Trailing
// partial frames (length not divisible by the channel count) are
// dropped rather than erroring.
func (c *Converter) ConvertFloat32(frames []float32) [][]byte {
	ch := c.native.Channels
	n := len(frames) / ch
	if n == 0 {
		return nil
	}
	mono := c.stage()
	if c.policy == DownmixChannel0 || ch == 1 {
		for i := 0; i < n; i++ {
			mono = append(mono, frames[i*ch])
		}
	} else {
		inv := 1 / float32(ch)
		for i := 0; i < n; i++ {
			var sum float32
			for j := 0; j < ch; j++ {
				sum += frames[i*ch+j]
			}
			mono = append(mono, sum*inv)
		}
	}
	return c.resampleEmit(mono)
}

// ConvertInt16 consumes interleaved int16 frames in the native format.
func (c *Converter) ConvertInt16(frames []int16) [][]byte {
	ch := c.native.Channels
	n := len(frames) / ch
	if n == 0 {
		return nil
	}
	mono := c.stage()
	if c.policy == DownmixChannel0 || ch == 1 {
		for i := 0; i < n; i++ {
			mono = append(mono, float32(frames[i*ch])/32768)
		}
	} else {
		inv := 1 / (32768 * float32(ch))
		for i := 0; i < n; i++ {
			var sum float32
			for j := 0; j < ch; j++ {
				sum += float32(frames[i*ch+j])
			}
			mono = append(mono, sum*inv)
		}
	}
	return c.resampleEmit(mono)
}

// ConvertBytes consumes a raw interleaved buffer encoded per the native
// sample representation, as delivered by the device render callback.
func (c *Converter) ConvertBytes(raw []byte) [][]byte {
	ch := c.native.Channels
	switch c.native.Format {
	case FormatFloat32:
		n := len(raw) / (4 * ch)
		if n == 0 {
			return nil
		}
		mono := c.stage()
		if c.policy == DownmixChannel0 || ch == 1 {
			for i := 0; i < n; i++ {
				mono = append(mono, float32frombytes(raw[i*ch*4:]))
			}
		} else {
			inv := 1 / float32(ch)
			for i := 0; i < n; i++ {
				var sum float32
				for j := 0; j < ch; j++ {
					sum += float32frombytes(raw[(i*ch+j)*4:])
				}
				mono = append(mono, sum*inv)
			}
		}
		return c.resampleEmit(mono)

	case FormatInt16:
		n := len(raw) / (2 * ch)
		if n == 0 {
			return nil
		}
		mono := c.stage()
		if c.policy == DownmixChannel0 || ch == 1 {
			for i := 0; i < n; i++ {
				mono = append(mono, float32(int16frombytes(raw[i*ch*2:]))/32768)
			}
		} else {
			inv := 1 / (32768 * float32(ch))
			for i := 0; i < n; i++ {
				var sum float32
				for j := 0; j < ch; j++ {
					sum += float32(int16frombytes(raw[(i*ch+j)*2:]))
				}
				mono = append(mono, sum*inv)
			}
		}
		return c.resampleEmit(mono)
	}
	return nil
}

// stage resets the mono staging buffer, seeding it with the carry
// sample from the previous call when one exists.
func (c *Converter) stage() []float32 {
	mono := c.mono[:0]
	if c.hasPrev {
		mono = append(mono, c.prev)
	}
	return mono
}

// resampleEmit walks the staged mono signal with linear interpolation
// at the target rate and assembles canonical chunks. The final staged
// sample is carried into the next call so the interpolation window
// never sees a gap.
func (c *Converter) resampleEmit(mono []float32) [][]byte {
	c.mono = mono[:0] // retain grown capacity for reuse
	if len(mono) == 0 {
		return nil
	}
	if len(mono) == 1 {
		c.prev = mono[0]
		c.hasPrev = true
		return nil
	}

	var out [][]byte
	pos := c.pos
	last := float64(len(mono) - 1)
	for pos < last {
		i := int(pos)
		frac := float32(pos - float64(i))
		s := mono[i] + (mono[i+1]-mono[i])*frac
		out = c.emit(s, out)
		pos += c.step
	}

	c.prev = mono[len(mono)-1]
	c.hasPrev = true
	c.pos = pos - last
	return out
}

// emit quantizes one canonical sample into the pending chunk, returning
// the chunk list grown by one when the chunk completes. Completed chunks
// are handed off by ownership; a fresh buffer backs the next chunk.
func (c *Converter) emit(s float32, out [][]byte) [][]byte {
	if c.chunk == nil {
		c.chunk = make([]byte, ChunkBytes)
		c.fill = 0
	}
	v := int32(math.Round(float64(s) * 32768))
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	binary.LittleEndian.PutUint16(c.chunk[c.fill:], uint16(int16(v)))
	c.fill += 2
	if c.fill == ChunkBytes {
		out = append(out, c.chunk)
		c.chunk = nil
	}
	return out
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func int16frombytes(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}
