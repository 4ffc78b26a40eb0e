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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// decodeChunk turns a canonical chunk back into int16 samples.
func decodeChunk(t *testing.T, chunk []byte) []int16 {
	t.Helper()
	if len(chunk) != ChunkBytes {
		t.Fatalf("chunk is %d bytes, want %d", len(chunk), ChunkBytes)
	}
	samples := make([]int16, ChunkSamples)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(chunk[2*i:]))
	}
	return samples
}

func constFloat32(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestNewConverter_RejectsBadFormats(t *testing.T) {
	tests := []struct {
		name   string
		native NativeFormat
	}{
		{"zero sample rate", NativeFormat{SampleRate: 0, Channels: 2, Format: FormatFloat32}},
		{"negative sample rate", NativeFormat{SampleRate: -44100, Channels: 1, Format: FormatFloat32}},
		{"zero channels", NativeFormat{SampleRate: 48000, Channels: 0, Format: FormatFloat32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConverter(tt.native, DownmixAverage, 0)
			if !errors.Is(err, ErrConverterCreation) {
				t.Errorf("expected ErrConverterCreation, got %v", err)
			}
		})
	}
}

// TestConverter_Int16Passthrough feeds canonical-format input through the
// converter and requires byte-exact output once a chunk completes. The
// interpolation carry delays the stream by one sample, so two buffers are
// needed to complete the first chunk.
func TestConverter_Int16Passthrough(t *testing.T) {
	native := NativeFormat{SampleRate: 16000, Channels: 1, Format: FormatInt16}
	c, err := NewConverter(native, DownmixAverage, 1600)
	if err != nil {
		t.Fatal(err)
	}

	in := make([]int16, 2*ChunkSamples)
	for i := range in {
		in[i] = int16(i - 1600) // spans negative and positive values
	}

	out := c.ConvertInt16(in[:ChunkSamples])
	if len(out) != 0 {
		t.Fatalf("first buffer completed %d chunks, want 0 (one-sample carry)", len(out))
	}

	out = c.ConvertInt16(in[ChunkSamples:])
	if len(out) != 1 {
		t.Fatalf("second buffer completed %d chunks, want 1", len(out))
	}

	got := decodeChunk(t, out[0])
	for i, s := range got {
		if s != in[i] {
			t.Fatalf("sample %d = %d, want %d (passthrough must be byte-exact)", i, s, in[i])
		}
	}
}

func TestConverter_Downsample48kMono(t *testing.T) {
	native := NativeFormat{SampleRate: 48000, Channels: 1, Format: FormatFloat32}
	c, err := NewConverter(native, DownmixAverage, 4800)
	if err != nil {
		t.Fatal(err)
	}

	// 100 ms of native input produces exactly one canonical chunk.
	out := c.ConvertFloat32(constFloat32(0.5, 4800))
	if len(out) != 1 {
		t.Fatalf("got %d chunks, want 1", len(out))
	}
	for i, s := range decodeChunk(t, out[0]) {
		if s != 16384 {
			t.Fatalf("sample %d = %d, want 16384", i, s)
		}
	}
}

func TestConverter_DownmixPolicies(t *testing.T) {
	// Interleaved stereo: left 0.25, right 0.75.
	frames := make([]float32, 9600)
	for i := 0; i < len(frames); i += 2 {
		frames[i] = 0.25
		frames[i+1] = 0.75
	}
	native := NativeFormat{SampleRate: 48000, Channels: 2, Format: FormatFloat32}

	tests := []struct {
		name   string
		policy DownmixPolicy
		want   int16
	}{
		{"average", DownmixAverage, 16384}, // (0.25+0.75)/2
		{"channel0", DownmixChannel0, 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConverter(native, tt.policy, 4800)
			if err != nil {
				t.Fatal(err)
			}
			out := c.ConvertFloat32(frames)
			if len(out) != 1 {
				t.Fatalf("got %d chunks, want 1", len(out))
			}
			for i, s := range decodeChunk(t, out[0]) {
				if s != tt.want {
					t.Fatalf("sample %d = %d, want %d", i, s, tt.want)
				}
			}
		})
	}
}

func TestConverter_ClampsOutOfRangeFloat(t *testing.T) {
	native := NativeFormat{SampleRate: 48000, Channels: 1, Format: FormatFloat32}

	tests := []struct {
		name  string
		level float32
		want  int16
	}{
		{"above full scale", 1.5, 32767},
		{"below full scale", -1.5, -32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConverter(native, DownmixAverage, 4800)
			if err != nil {
				t.Fatal(err)
			}
			out := c.ConvertFloat32(constFloat32(tt.level, 4800))
			if len(out) != 1 {
				t.Fatalf("got %d chunks, want 1", len(out))
			}
			for i, s := range decodeChunk(t, out[0]) {
				if s != tt.want {
					t.Fatalf("sample %d = %d, want %d", i, s, tt.want)
				}
			}
		})
	}
}

// TestConverter_CarryAcrossBuffers requires that splitting the input
// stream at an arbitrary point yields the same output as a single call:
// interpolation must be continuous across buffer boundaries.
func TestConverter_CarryAcrossBuffers(t *testing.T) {
	native := NativeFormat{SampleRate: 48000, Channels: 1, Format: FormatFloat32}

	in := make([]float32, 9600)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 37.0)) // non-trivial waveform
	}

	oneShot, err := NewConverter(native, DownmixAverage, len(in))
	if err != nil {
		t.Fatal(err)
	}
	want := oneShot.ConvertFloat32(in)

	split, err := NewConverter(native, DownmixAverage, len(in))
	if err != nil {
		t.Fatal(err)
	}
	var got [][]byte
	got = append(got, split.ConvertFloat32(in[:1000])...)
	got = append(got, split.ConvertFloat32(in[1000:1001])...) // single-sample buffer
	got = append(got, split.ConvertFloat32(in[1001:])...)

	if len(got) != len(want) {
		t.Fatalf("split input produced %d chunks, one-shot produced %d", len(got), len(want))
	}
	for i := range got {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("chunk %d differs between split and one-shot conversion", i)
		}
	}
}

// TestConverter_BytesMatchesTyped checks the raw-byte entry point against
// the typed one for both native sample encodings.
func TestConverter_BytesMatchesTyped(t *testing.T) {
	t.Run("float32", func(t *testing.T) {
		native := NativeFormat{SampleRate: 48000, Channels: 2, Format: FormatFloat32}
		frames := make([]float32, 9600)
		for i := range frames {
			frames[i] = float32(i%100) / 200
		}
		raw := make([]byte, 4*len(frames))
		for i, f := range frames {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
		}

		typed, _ := NewConverter(native, DownmixAverage, 4800)
		fromBytes, _ := NewConverter(native, DownmixAverage, 4800)

		want := typed.ConvertFloat32(frames)
		got := fromBytes.ConvertBytes(raw)
		if len(got) != len(want) {
			t.Fatalf("got %d chunks, want %d", len(got), len(want))
		}
		for i := range got {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("chunk %d differs between byte and typed conversion", i)
			}
		}
	})

	t.Run("int16", func(t *testing.T) {
		native := NativeFormat{SampleRate: 16000, Channels: 1, Format: FormatInt16}
		frames := make([]int16, 3200)
		for i := range frames {
			frames[i] = int16(i*7 - 5000)
		}
		raw := make([]byte, 2*len(frames))
		for i, s := range frames {
			binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
		}

		typed, _ := NewConverter(native, DownmixAverage, 1600)
		fromBytes, _ := NewConverter(native, DownmixAverage, 1600)

		want := typed.ConvertInt16(frames)
		got := fromBytes.ConvertBytes(raw)
		if len(got) != len(want) {
			t.Fatalf("got %d chunks, want %d", len(got), len(want))
		}
		for i := range got {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("chunk %d differs between byte and typed conversion", i)
			}
		}
	})
}

func TestConverter_ResetDiscardsCarriedState(t *testing.T) {
	native := NativeFormat{SampleRate: 48000, Channels: 1, Format: FormatFloat32}

	dirty, err := NewConverter(native, DownmixAverage, 4800)
	if err != nil {
		t.Fatal(err)
	}
	dirty.ConvertFloat32(constFloat32(0.9, 1234)) // leave a partial chunk behind
	dirty.Reset()

	fresh, err := NewConverter(native, DownmixAverage, 4800)
	if err != nil {
		t.Fatal(err)
	}

	in := constFloat32(0.5, 4800)
	got := dirty.ConvertFloat32(in)
	want := fresh.ConvertFloat32(in)

	if len(got) != len(want) {
		t.Fatalf("reset converter produced %d chunks, fresh produced %d", len(got), len(want))
	}
	for i := range got {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("chunk %d differs between reset and fresh converter", i)
		}
	}
}

func TestConverter_IgnoresPartialFrames(t *testing.T) {
	native := NativeFormat{SampleRate: 48000, Channels: 2, Format: FormatFloat32}
	c, err := NewConverter(native, DownmixAverage, 4800)
	if err != nil {
		t.Fatal(err)
	}
	if out := c.ConvertFloat32([]float32{0.5}); out != nil {
		t.Errorf("lone half-frame should produce nothing, got %d chunks", len(out))
	}
	if out := c.ConvertFloat32(nil); out != nil {
		t.Errorf("empty input should produce nothing, got %d chunks", len(out))
	}
}

func TestParseDownmixPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DownmixPolicy
		wantErr bool
	}{
		{"", DownmixAverage, false},
		{"average", DownmixAverage, false},
		{"channel0", DownmixChannel0, false},
		{"loudest", DownmixAverage, true},
	}
	for _, tt := range tests {
		got, err := ParseDownmixPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDownmixPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDownmixPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
