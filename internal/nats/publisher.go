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

// Package nats publishes source-tagged capture output on NATS subjects
// for consumers beyond the local transcription pipeline.
package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// ChunkMessage is one canonical audio chunk on the wire.
type ChunkMessage struct {
	Source     string `json:"source"`      // "microphone" or "system_audio"
	AudioData  []byte `json:"audio_data"`  // 16-bit PCM, 16 kHz mono
	SampleRate int    `json:"sample_rate"` // always 16000
	Timestamp  int64  `json:"timestamp"`   // unix microseconds at publish
}

// EventMessage reports a non-audio capture event.
type EventMessage struct {
	Kind     string `json:"kind"` // "error" or "device_changed"
	Source   string `json:"source"`
	Detail   string `json:"detail"`
	DeviceID string `json:"device_id,omitempty"`
}

// PublisherConnection interface for dependency injection.
type PublisherConnection interface {
	Publish(subject string, data []byte) (err error)
	Close()
}

// ConnAdapter adapts *nats.Conn to the PublisherConnection interface.
type ConnAdapter struct {
	conn *nats.Conn
}

func NewConnAdapter(conn *nats.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

func (a *ConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnAdapter) Close() {
	a.conn.Close()
}

// ChunkPublisher forwards capture delegate events onto NATS subjects:
// audio on <prefix>.audio.<source>, events on <prefix>.events.
type ChunkPublisher struct {
	conn   PublisherConnection
	prefix string
}

// NewChunkPublisher connects to NATS with retry and returns a publisher.
func NewChunkPublisher(natsURL, subjectPrefix string) (*ChunkPublisher, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewChunkPublisherWithConnection(NewConnAdapter(nc), subjectPrefix), nil
}

// NewChunkPublisherWithConnection creates a publisher over an existing
// connection (for testing).
func NewChunkPublisherWithConnection(conn PublisherConnection, subjectPrefix string) *ChunkPublisher {
	return &ChunkPublisher{conn: conn, prefix: subjectPrefix}
}

// Close releases the underlying connection.
func (p *ChunkPublisher) Close() {
	p.conn.Close()
}

// OnCapturedChunk publishes one canonical chunk.
func (p *ChunkPublisher) OnCapturedChunk(chunk []byte, source audio.CaptureSource) {
	msg := ChunkMessage{
		Source:     source.String(),
		AudioData:  chunk,
		SampleRate: audio.TargetSampleRate,
		Timestamp:  time.Now().UnixMicro(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️  Failed to marshal chunk message: %v", err)
		return
	}
	subject := fmt.Sprintf("%s.audio.%s", p.prefix, source)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("⚠️  Failed to publish %s chunk: %v", source, err)
	}
}

// OnCaptureError publishes a capture error event.
func (p *ChunkPublisher) OnCaptureError(err error, source audio.CaptureSource) {
	p.publishEvent(EventMessage{
		Kind:   "error",
		Source: source.String(),
		Detail: err.Error(),
	})
}

// OnDeviceChanged publishes a device reconfiguration event.
func (p *ChunkPublisher) OnDeviceChanged(deviceID string, source audio.CaptureSource) {
	p.publishEvent(EventMessage{
		Kind:     "device_changed",
		Source:   source.String(),
		DeviceID: deviceID,
	})
}

func (p *ChunkPublisher) publishEvent(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️  Failed to marshal event message: %v", err)
		return
	}
	subject := fmt.Sprintf("%s.events.%s", p.prefix, msg.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("⚠️  Failed to publish %s event: %v", msg.Kind, err)
	}
}
