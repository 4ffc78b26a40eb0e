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

// Package transport forwards captured chunks to the local streaming
// transcription server over its WebSocket protocol.
package transport

import (
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// Transcript is one recognition result from the transcription server.
type Transcript struct {
	Speaker    string
	Text       string
	Final      bool
	Confidence float64
}

// TranscriptHandler receives transcripts on the client's read goroutine.
type TranscriptHandler func(t Transcript)

// audioMessage is the outbound wire format: speaker-tagged hex-encoded
// canonical PCM.
type audioMessage struct {
	Speaker string `json:"speaker"`
	Audio   string `json:"audio"`
}

// transcriptMessage is the inbound wire format.
type transcriptMessage struct {
	Type       string  `json:"type"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
	writeTimeout    = 5 * time.Second
)

// STTClient streams capture output to the transcription server. It
// implements the capture delegate: chunks are forwarded as they arrive,
// tagged with the speaker the server expects for each source.
type STTClient struct {
	endpoint string
	handler  TranscriptHandler

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	closed bool
}

// NewSTTClient creates a client for the given ws:// endpoint. handler
// may be nil when transcripts are consumed elsewhere.
func NewSTTClient(endpoint string, handler TranscriptHandler) *STTClient {
	return &STTClient{endpoint: endpoint, handler: handler}
}

// Connect dials the transcription server with retry.
func (c *STTClient) Connect() error {
	var conn *websocket.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(c.endpoint, nil)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to STT server (attempt %d/%d): %v",
			i+1, connectAttempts, err)
		time.Sleep(connectBackoff)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to STT server after %d attempts: %w",
			connectAttempts, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	log.Printf("✅ Connected to STT server at %s", c.endpoint)
	return nil
}

// Close shuts the connection down. Idempotent.
func (c *STTClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	c.conn = nil
	return err
}

// OnCapturedChunk forwards one canonical chunk to the server.
func (c *STTClient) OnCapturedChunk(chunk []byte, source audio.CaptureSource) {
	msg := audioMessage{
		Speaker: SpeakerFor(source),
		Audio:   hex.EncodeToString(chunk),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("⚠️  STT send failed, dropping %s chunk: %v", source, err)
	}
}

// OnCaptureError logs pipeline errors; a degraded capture is still a
// usable session.
func (c *STTClient) OnCaptureError(err error, source audio.CaptureSource) {
	log.Printf("⚠️  Capture error on %s: %v", source, err)
}

// OnDeviceChanged logs device reconfiguration events.
func (c *STTClient) OnDeviceChanged(deviceID string, source audio.CaptureSource) {
	log.Printf("🔄 Device changed for %s: %q", source, deviceID)
}

// readLoop dispatches inbound transcripts until the connection drops.
func (c *STTClient) readLoop(conn *websocket.Conn) {
	for {
		var msg transcriptMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Printf("⚠️  STT connection lost: %v", err)
			}
			return
		}
		if msg.Type != "transcript" || c.handler == nil {
			continue
		}
		c.handler(Transcript{
			Speaker:    msg.Speaker,
			Text:       msg.Text,
			Final:      msg.Final,
			Confidence: msg.Confidence,
		})
	}
}

// SpeakerFor maps a capture source to the speaker tag the transcription
// server expects.
func SpeakerFor(source audio.CaptureSource) string {
	if source == audio.SourceSystemAudio {
		return "interviewer"
	}
	return "user"
}
