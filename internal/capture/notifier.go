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
	"sync"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// ChangeBroadcaster is a DeviceChangeNotifier whose signals are fed in
// by the host integration layer. Each subscription is scoped to the
// subscriber's lifetime; unsubscribing detaches only that subscriber.
type ChangeBroadcaster struct {
	mu   sync.Mutex
	subs map[int]func(deviceID string)
	next int
}

// NewChangeBroadcaster creates an empty broadcaster.
func NewChangeBroadcaster() *ChangeBroadcaster {
	return &ChangeBroadcaster{subs: make(map[int]func(string))}
}

// Subscribe registers fn and returns its unsubscribe handle.
func (b *ChangeBroadcaster) Subscribe(fn func(deviceID string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Notify fans one hardware-reconfiguration signal out to all current
// subscribers.
func (b *ChangeBroadcaster) Notify(deviceID string) {
	b.mu.Lock()
	fns := make([]func(string), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(deviceID)
	}
}

// FanoutDelegate forwards every delegate event to each member in order.
type FanoutDelegate []Delegate

// OnCapturedChunk forwards a chunk to all members.
func (f FanoutDelegate) OnCapturedChunk(chunk []byte, source audio.CaptureSource) {
	for _, d := range f {
		d.OnCapturedChunk(chunk, source)
	}
}

// OnCaptureError forwards an error to all members.
func (f FanoutDelegate) OnCaptureError(err error, source audio.CaptureSource) {
	for _, d := range f {
		d.OnCaptureError(err, source)
	}
}

// OnDeviceChanged forwards a device change to all members.
func (f FanoutDelegate) OnDeviceChanged(deviceID string, source audio.CaptureSource) {
	for _, d := range f {
		d.OnDeviceChanged(deviceID, source)
	}
}
