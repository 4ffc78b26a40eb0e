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

// Package vad implements the energy-based voice activity gate that sits
// between format conversion and the downstream delegate. Each capture
// source owns exactly one Gate; the gate filters and reorders chunks but
// never re-encodes them.
package vad

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// State is the gate's position in the speech/silence hysteresis cycle.
type State int

const (
	// StateIdle buffers incoming chunks into the pre-roll ring and
	// emits nothing.
	StateIdle State = iota
	// StateSpeech emits every chunk.
	StateSpeech
	// StateHangover keeps emitting after energy drops, so trailing
	// syllables are not clipped.
	StateHangover
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeech:
		return "speech"
	case StateHangover:
		return "hangover"
	default:
		return "unknown"
	}
}

// Config holds the gate's tuning knobs. Thresholds are RMS values in
// int16 sample units; they are empirically tuned per deployment and
// deliberately configurable rather than baked-in constants.
type Config struct {
	// StartThreshold opens the gate. 185 ≈ -45 dBFS.
	StartThreshold float64
	// EndThreshold begins the hangover countdown. Must sit below
	// StartThreshold; the asymmetry is what prevents rapid toggling.
	EndThreshold float64
	// Hangover is how long low energy is tolerated before the gate
	// returns to idle.
	Hangover time.Duration
	// PreRollChunks caps the ring of silence-period chunks flushed at
	// speech onset.
	PreRollChunks int
	// ChunkDuration is the fixed duration of every incoming chunk.
	ChunkDuration time.Duration
	// SubsampleStride bounds RMS cost: every Nth sample contributes.
	SubsampleStride int
}

// DefaultConfig returns the tuning used in production captures.
func DefaultConfig() Config {
	return Config{
		StartThreshold:  185, // ≈ -45 dBFS
		EndThreshold:    100, // ≈ -50 dBFS
		Hangover:        500 * time.Millisecond,
		PreRollChunks:   10, // 1 s at 100 ms chunks
		ChunkDuration:   audio.ChunkDuration,
		SubsampleStride: 10,
	}
}

// Gate classifies fixed-duration chunks into speech and silence with
// hysteresis, emitting buffered chunks only for active regions.
//
// Processing is purely deterministic arithmetic with no fallible paths;
// malformed or empty chunks degrade to silence. The gate does no
// internal locking: its owner serializes all calls on one queue.
type Gate struct {
	cfg   Config
	state State

	preRoll [][]byte
	elapsed time.Duration // accumulated time spent in hangover
}

// NewGate builds a gate, normalizing nonsensical config values to the
// defaults so a zero Config still behaves.
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.StartThreshold <= 0 {
		cfg.StartThreshold = def.StartThreshold
	}
	if cfg.EndThreshold <= 0 || cfg.EndThreshold >= cfg.StartThreshold {
		cfg.EndThreshold = cfg.StartThreshold * (def.EndThreshold / def.StartThreshold)
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = def.Hangover
	}
	if cfg.PreRollChunks < 0 {
		cfg.PreRollChunks = def.PreRollChunks
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = def.ChunkDuration
	}
	if cfg.SubsampleStride < 1 {
		cfg.SubsampleStride = def.SubsampleStride
	}
	return &Gate{
		cfg:     cfg,
		preRoll: make([][]byte, 0, cfg.PreRollChunks),
	}
}

// State reports the current gate state.
func (g *Gate) State() State {
	return g.state
}

// Reset clears all state to initial, equivalent to a fresh instance.
func (g *Gate) Reset() {
	g.state = StateIdle
	g.preRoll = g.preRoll[:0]
	g.elapsed = 0
}

// Process classifies one chunk and returns the chunks to emit, in
// order. Output may be empty (silence), the chunk itself, or the
// flushed pre-roll followed by the chunk at speech onset. Emitted
// chunks are byte-identical to their inputs.
func (g *Gate) Process(chunk []byte) [][]byte {
	level := RMS(chunk, g.cfg.SubsampleStride)

	switch g.state {
	case StateIdle:
		if level > g.cfg.StartThreshold {
			// Onset: the buffered lead-in goes first so the start
			// of the utterance is not clipped.
			out := make([][]byte, 0, len(g.preRoll)+1)
			out = append(out, g.preRoll...)
			out = append(out, chunk)
			g.preRoll = g.preRoll[:0]
			g.state = StateSpeech
			return out
		}
		g.buffer(chunk)
		return nil

	case StateSpeech:
		if level < g.cfg.EndThreshold {
			g.state = StateHangover
			// The transition chunk counts toward the hangover window.
			g.elapsed = g.cfg.ChunkDuration
		}
		return [][]byte{chunk}

	case StateHangover:
		if level > g.cfg.StartThreshold {
			// Re-engagement, not a new onset: no pre-roll flush.
			g.state = StateSpeech
			g.elapsed = 0
			return [][]byte{chunk}
		}
		g.elapsed += g.cfg.ChunkDuration
		if g.elapsed >= g.cfg.Hangover {
			// Timed out. This chunk is not emitted; it seeds the
			// next pre-roll window instead of being discarded.
			g.state = StateIdle
			g.elapsed = 0
			g.buffer(chunk)
			return nil
		}
		return [][]byte{chunk}
	}
	return nil
}

// buffer appends a chunk to the bounded pre-roll ring, evicting the
// oldest entry when full.
func (g *Gate) buffer(chunk []byte) {
	if g.cfg.PreRollChunks == 0 {
		return
	}
	if len(g.preRoll) >= g.cfg.PreRollChunks {
		copy(g.preRoll, g.preRoll[1:])
		g.preRoll = g.preRoll[:len(g.preRoll)-1]
	}
	g.preRoll = append(g.preRoll, chunk)
}

// RMS computes the subsampled root-mean-square amplitude of a 16-bit
// little-endian PCM chunk, visiting every stride-th sample. Empty or
// malformed input yields 0.
func RMS(chunk []byte, stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	count := 0
	for i := 0; i < n; i += stride {
		s := float64(int16(binary.LittleEndian.Uint16(chunk[2*i:])))
		sum += s * s
		count++
	}
	return math.Sqrt(sum / float64(count))
}
