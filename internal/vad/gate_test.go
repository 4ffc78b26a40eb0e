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

package vad

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// testConfig mirrors the production tuning at a pre-roll cap small
// enough to exercise eviction.
func testConfig() Config {
	return Config{
		StartThreshold:  185,
		EndThreshold:    100,
		Hangover:        500 * time.Millisecond,
		PreRollChunks:   3,
		ChunkDuration:   100 * time.Millisecond,
		SubsampleStride: 10,
	}
}

// makeChunk builds a full canonical chunk whose subsampled RMS is
// exactly |level|. Sample index 1 carries a tag; the stride-10 subsample
// never visits it, so identity is encodable without disturbing RMS.
func makeChunk(level int16, tag int16) []byte {
	chunk := make([]byte, audio.ChunkBytes)
	for i := 0; i < audio.ChunkSamples; i++ {
		binary.LittleEndian.PutUint16(chunk[2*i:], uint16(level))
	}
	binary.LittleEndian.PutUint16(chunk[2:], uint16(tag))
	return chunk
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		chunk    []byte
		stride   int
		expected float64
		epsilon  float64
	}{
		{"nil chunk", nil, 10, 0, 0},
		{"empty chunk", []byte{}, 10, 0, 0},
		{"single stray byte", []byte{0x7f}, 10, 0, 0},
		{"silence", makeChunk(0, 0), 10, 0, 0},
		{"constant 300", makeChunk(300, 0), 10, 300, 0.001},
		{"constant negative", makeChunk(-300, 0), 10, 300, 0.001},
		{"stride one", makeChunk(50, 50), 1, 50, 0.001},
		{"stride normalized", makeChunk(200, 0), 0, 200, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.chunk, tt.stride)
			if math.Abs(got-tt.expected) > tt.epsilon {
				t.Errorf("RMS() = %f, want %f (±%f)", got, tt.expected, tt.epsilon)
			}
		})
	}
}

// TestGate_FullScenario walks the canonical silence→speech→silence
// sequence: RMS [0,0,0,0, 300,300,300, 50,50,50,50,50, 50] with
// T_hi=185, T_lo=100, hangover=500ms, pre-roll cap 3.
func TestGate_FullScenario(t *testing.T) {
	g := NewGate(testConfig())

	levels := []int16{0, 0, 0, 0, 300, 300, 300, 50, 50, 50, 50, 50, 50}
	chunks := make([][]byte, len(levels))
	for i, v := range levels {
		chunks[i] = makeChunk(v, int16(i+1)) // 1-indexed tags
	}

	var emitted [][]byte
	perChunk := make([]int, len(chunks))
	for i, c := range chunks {
		out := g.Process(c)
		perChunk[i] = len(out)
		emitted = append(emitted, out...)
	}

	// Chunk 5 triggers speech and flushes pre-roll (chunks 2-4, cap 3).
	expectedCounts := []int{0, 0, 0, 0, 4, 1, 1, 1, 1, 1, 1, 0, 0}
	for i, want := range expectedCounts {
		if perChunk[i] != want {
			t.Errorf("chunk %d: emitted %d chunks, want %d", i+1, perChunk[i], want)
		}
	}

	// Emission order: pre-roll 2-4, then 5-11. Chunk 12 hits the 500 ms
	// hangover boundary and is withheld; 13 is idle.
	expectedTags := []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if len(emitted) != len(expectedTags) {
		t.Fatalf("emitted %d chunks total, want %d", len(emitted), len(expectedTags))
	}
	for i, tag := range expectedTags {
		if !bytes.Equal(emitted[i], chunks[tag-1]) {
			t.Errorf("emission %d is not byte-identical to chunk %d", i, tag)
		}
	}

	if g.State() != StateIdle {
		t.Errorf("expected idle after hangover timeout, got %s", g.State())
	}

	// Chunk 12 seeded the next pre-roll window: the next onset must
	// flush [12, 13] ahead of the trigger.
	trigger := makeChunk(300, 14)
	out := g.Process(trigger)
	if len(out) != 3 {
		t.Fatalf("onset after timeout emitted %d chunks, want 3", len(out))
	}
	if !bytes.Equal(out[0], chunks[11]) || !bytes.Equal(out[1], chunks[12]) || !bytes.Equal(out[2], trigger) {
		t.Error("onset after timeout should flush [chunk12, chunk13, trigger] in order")
	}
}

// TestGate_Hysteresis checks that energy between the two thresholds
// never changes state: crossing the opposite threshold is required.
func TestGate_Hysteresis(t *testing.T) {
	g := NewGate(testConfig())

	// Between thresholds while idle: stays idle.
	for i := 0; i < 5; i++ {
		if out := g.Process(makeChunk(150, int16(i))); len(out) != 0 {
			t.Fatalf("idle chunk %d emitted %d chunks", i, len(out))
		}
	}
	if g.State() != StateIdle {
		t.Fatalf("expected idle, got %s", g.State())
	}

	// Onset, then oscillate between thresholds: stays speech, no
	// hangover entered, every chunk emitted exactly once.
	g.Process(makeChunk(300, 100))
	for i := 0; i < 20; i++ {
		level := int16(120 + 50*(i%2)) // 120/170, both inside the band
		out := g.Process(makeChunk(level, int16(i)))
		if len(out) != 1 {
			t.Fatalf("speech chunk %d emitted %d chunks, want 1", i, len(out))
		}
	}
	if g.State() != StateSpeech {
		t.Errorf("expected speech after boundary oscillation, got %s", g.State())
	}
}

// TestGate_Reengagement verifies hangover→speech does not flush
// pre-roll: it is a continuation, not a new onset.
func TestGate_Reengagement(t *testing.T) {
	g := NewGate(testConfig())

	g.Process(makeChunk(0, 1)) // buffered
	g.Process(makeChunk(300, 2))
	if g.State() != StateSpeech {
		t.Fatalf("expected speech, got %s", g.State())
	}

	out := g.Process(makeChunk(50, 3))
	if g.State() != StateHangover || len(out) != 1 {
		t.Fatalf("expected hangover with 1 emission, got %s with %d", g.State(), len(out))
	}

	out = g.Process(makeChunk(300, 4))
	if g.State() != StateSpeech {
		t.Fatalf("expected re-engaged speech, got %s", g.State())
	}
	if len(out) != 1 {
		t.Errorf("re-engagement emitted %d chunks, want 1 (no pre-roll flush)", len(out))
	}
}

func TestGate_PreRollEviction(t *testing.T) {
	g := NewGate(testConfig())

	chunks := make([][]byte, 5)
	for i := range chunks {
		chunks[i] = makeChunk(0, int16(i+1))
		g.Process(chunks[i])
	}

	trigger := makeChunk(300, 6)
	out := g.Process(trigger)

	// Cap 3: only chunks 3-5 survive, oldest first, then the trigger.
	if len(out) != 4 {
		t.Fatalf("emitted %d chunks, want 4", len(out))
	}
	for i, tag := 0, 3; tag <= 5; i, tag = i+1, tag+1 {
		if !bytes.Equal(out[i], chunks[tag-1]) {
			t.Errorf("emission %d should be chunk %d", i, tag)
		}
	}
	if !bytes.Equal(out[3], trigger) {
		t.Error("final emission should be the triggering chunk")
	}
}

func TestGate_ZeroPreRoll(t *testing.T) {
	cfg := testConfig()
	cfg.PreRollChunks = 0 // explicit zero: no pre-roll at all
	g := NewGate(cfg)

	g.Process(makeChunk(0, 1))
	out := g.Process(makeChunk(300, 2))
	if len(out) != 1 {
		t.Errorf("onset with zero pre-roll emitted %d chunks, want 1", len(out))
	}
}

// TestGate_ResetEquivalence runs the same input through a fresh gate
// and a reset gate and requires identical output.
func TestGate_ResetEquivalence(t *testing.T) {
	levels := []int16{0, 300, 50, 50, 300, 0, 0, 300}

	run := func(g *Gate) [][]byte {
		var out [][]byte
		for i, v := range levels {
			out = append(out, g.Process(makeChunk(v, int16(i)))...)
		}
		return out
	}

	used := NewGate(testConfig())
	run(used) // dirty the state
	used.Reset()

	fresh := NewGate(testConfig())

	got, want := run(used), run(fresh)
	if len(got) != len(want) {
		t.Fatalf("reset gate emitted %d chunks, fresh emitted %d", len(got), len(want))
	}
	for i := range got {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("emission %d differs between reset and fresh gate", i)
		}
	}
}

func TestGate_MalformedChunksAreSilence(t *testing.T) {
	g := NewGate(testConfig())

	// None of these may panic; all classify as silence.
	for _, c := range [][]byte{nil, {}, {0x01}, {0x01, 0x02, 0x03}} {
		if out := g.Process(c); len(out) != 0 {
			t.Errorf("malformed chunk emitted %d chunks", len(out))
		}
	}
	if g.State() != StateIdle {
		t.Errorf("expected idle, got %s", g.State())
	}
}

func TestNewGate_NormalizesConfig(t *testing.T) {
	g := NewGate(Config{})
	def := DefaultConfig()

	if g.cfg.StartThreshold != def.StartThreshold {
		t.Errorf("start threshold = %g, want default %g", g.cfg.StartThreshold, def.StartThreshold)
	}
	if g.cfg.EndThreshold >= g.cfg.StartThreshold {
		t.Error("normalized end threshold must sit below start threshold")
	}
	if g.cfg.SubsampleStride < 1 {
		t.Error("normalized stride must be at least 1")
	}
}
