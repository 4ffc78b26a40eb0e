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

// Frame is a bounds-checked view over one pre-allocated arena slot.
// Exactly one writer (the render callback) fills it, then hands it off;
// the consumer reads Bytes and returns the slot with Release.
type Frame struct {
	arena *frameArena
	buf   []byte
	n     int
}

// write copies p into the slot, truncating at capacity, and returns the
// number of bytes retained. The fill cursor only moves forward.
func (f *Frame) write(p []byte) int {
	n := copy(f.buf[f.n:], p)
	f.n += n
	return n
}

// Bytes returns the filled portion of the slot. Valid until Release.
func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

// Release returns the slot to the arena. The view must not be used
// afterward.
func (f *Frame) Release() {
	f.n = 0
	f.arena.free <- f
}

// frameArena is a fixed pool of capture buffers sized at pipeline start
// for the worst-case render cycle, so the real-time callback never
// allocates. Acquire is non-blocking: an exhausted arena means the
// consumer has fallen behind and the cycle is dropped.
type frameArena struct {
	free      chan *Frame
	slotBytes int
}

func newFrameArena(slotBytes, slots int) *frameArena {
	a := &frameArena{
		free:      make(chan *Frame, slots),
		slotBytes: slotBytes,
	}
	for i := 0; i < slots; i++ {
		a.free <- &Frame{arena: a, buf: make([]byte, slotBytes)}
	}
	return a
}

func (a *frameArena) acquire() (*Frame, bool) {
	select {
	case f := <-a.free:
		f.n = 0
		return f, true
	default:
		return nil, false
	}
}
