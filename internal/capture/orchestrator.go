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

// Package capture owns the lifecycle of both capture pipelines: the
// microphone through a higher-level engine API and system audio through
// the low-level device capture. It converts, gates, and delivers
// source-tagged canonical chunks to a delegate.
package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
	"github.com/murmurlabs/murmur-capture-go/internal/device"
	"github.com/murmurlabs/murmur-capture-go/internal/metrics"
	"github.com/murmurlabs/murmur-capture-go/internal/vad"
)

// ErrInvalidInputFormat is returned from Start when both capture
// pipelines fail. One pipeline down is a supported degraded state and
// does not produce this error.
var ErrInvalidInputFormat = errors.New("no usable capture input")

// Delegate consumes the capture core's output. Chunks arrive in strict
// per-source order on the processing queue's goroutine; the delegate is
// expected to hand off quickly.
type Delegate interface {
	OnCapturedChunk(chunk []byte, source audio.CaptureSource)
	OnCaptureError(err error, source audio.CaptureSource)
	OnDeviceChanged(deviceID string, source audio.CaptureSource)
}

// DeviceChangeNotifier delivers OS hardware-reconfiguration signals.
// The orchestrator owns its subscription and releases it on teardown,
// so multiple instances never interfere.
type DeviceChangeNotifier interface {
	Subscribe(fn func(deviceID string)) (unsubscribe func())
}

// Config tunes the orchestrator.
type Config struct {
	// DeviceIdentifier names the loopback device for the system-audio
	// path.
	DeviceIdentifier string
	// VAD configures both per-source gates identically.
	VAD vad.Config
	// Downmix is the multi-channel collapse policy for both paths.
	Downmix audio.DownmixPolicy
	// QueueDepth bounds the conversion/VAD job queue.
	QueueDepth int
	// Debounce is how long device-change signals are coalesced before
	// one restart cycle runs.
	Debounce time.Duration
}

// DefaultDeviceIdentifier is the loopback driver shipped with the
// desktop app.
const DefaultDeviceIdentifier = "BlackHole 2ch"

const (
	defaultQueueDepth = 16
	defaultDebounce   = time.Second
	micSlots          = 8
)

// Orchestrator owns both pipelines. One real-time delivery path exists
// per pipeline; all conversion and VAD for both sources runs on a
// single dedicated serial queue so the capture callbacks stay minimal.
type Orchestrator struct {
	cfg           Config
	delegate      Delegate
	engine        EngineBackend
	deviceBackend device.Backend
	notifier      DeviceChangeNotifier
	metrics       *metrics.Metrics

	mu          sync.Mutex
	running     bool
	paused      bool
	engineUp    bool
	jobs        chan captureJob
	quit        chan struct{}
	workerDone  chan struct{}
	unsubscribe func()
	debounce    *time.Timer
	mic         *micPipeline
	sys         *device.Capture

	// procMu serializes all gate and converter access; the gates do
	// no locking of their own.
	procMu     sync.Mutex
	gates      map[audio.CaptureSource]*vad.Gate
	converters map[audio.CaptureSource]*audio.Converter
}

// captureJob carries one raw native buffer from a capture path to the
// processing queue. Exactly one of f32/frame is set.
type captureJob struct {
	source audio.CaptureSource
	f32    []float32
	free   chan []float32
	frame  *device.Frame
}

// NewOrchestrator wires the orchestrator. notifier and m may be nil.
func NewOrchestrator(cfg Config, engine EngineBackend, backend device.Backend,
	notifier DeviceChangeNotifier, delegate Delegate, m *metrics.Metrics) *Orchestrator {

	if cfg.DeviceIdentifier == "" {
		cfg.DeviceIdentifier = DefaultDeviceIdentifier
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Orchestrator{
		cfg:           cfg,
		delegate:      delegate,
		engine:        engine,
		deviceBackend: backend,
		notifier:      notifier,
		metrics:       m,
	}
}

// Start attempts both pipelines independently. A single failure is
// logged and reported to the delegate but non-fatal; Start fails only
// when both pipelines fail, with ErrInvalidInputFormat.
func (o *Orchestrator) Start() error {
	var failures []pipelineFailure
	defer func() {
		for _, f := range failures {
			o.delegate.OnCaptureError(f.err, f.source)
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	// Fresh gate and converter state on every start.
	o.procMu.Lock()
	o.gates = map[audio.CaptureSource]*vad.Gate{
		audio.SourceMicrophone:  vad.NewGate(o.cfg.VAD),
		audio.SourceSystemAudio: vad.NewGate(o.cfg.VAD),
	}
	o.converters = map[audio.CaptureSource]*audio.Converter{}
	o.procMu.Unlock()

	o.jobs = make(chan captureJob, o.cfg.QueueDepth)
	o.quit = make(chan struct{})
	o.workerDone = make(chan struct{})
	go o.processLoop(o.jobs, o.quit, o.workerDone)

	failures = o.startPipelinesLocked(failures)
	if len(failures) == 2 {
		o.stopPipelinesLocked()
		close(o.quit)
		<-o.workerDone
		o.jobs, o.quit, o.workerDone = nil, nil, nil
		return fmt.Errorf("microphone (%v), system audio (%v): %w",
			failures[0].err, failures[1].err, ErrInvalidInputFormat)
	}

	if o.notifier != nil {
		o.unsubscribe = o.notifier.Subscribe(o.onDeviceChange)
	}
	o.running = true
	o.paused = false
	log.Printf("✅ Capture started (device %q)", o.cfg.DeviceIdentifier)
	return nil
}

type pipelineFailure struct {
	source audio.CaptureSource
	err    error
}

// startPipelinesLocked brings up both paths, recording failures without
// aborting: one source down is a degraded state, not a hard failure.
func (o *Orchestrator) startPipelinesLocked(failures []pipelineFailure) []pipelineFailure {
	if err := o.startMicLocked(); err != nil {
		log.Printf("⚠️  Microphone pipeline failed (continuing without it): %v", err)
		failures = append(failures, pipelineFailure{audio.SourceMicrophone, err})
	} else {
		o.metrics.PipelineUp(audio.SourceMicrophone.String(), true)
	}
	if err := o.startSystemLocked(); err != nil {
		log.Printf("⚠️  System audio pipeline failed (continuing without it): %v", err)
		failures = append(failures, pipelineFailure{audio.SourceSystemAudio, err})
	} else {
		o.metrics.PipelineUp(audio.SourceSystemAudio.String(), true)
	}
	return failures
}

// startMicLocked configures the microphone engine: raw signal (no
// voice processing), a 100 ms tap at the native rate, and a converter
// to the canonical format.
func (o *Orchestrator) startMicLocked() error {
	if err := o.engine.Initialize(); err != nil {
		return fmt.Errorf("engine init: %w: %v", device.ErrAudioUnitInit, err)
	}
	o.engineUp = true

	native, err := o.engine.DefaultInputFormat()
	if err != nil {
		return fmt.Errorf("input format: %w: %v", device.ErrStreamFormat, err)
	}
	if native.SampleRate <= 0 {
		return fmt.Errorf("input device reports zero sample rate: %w", device.ErrStreamFormat)
	}

	frames := int(native.SampleRate / 10) // tap sized from the 100 ms chunk duration
	conv, err := audio.NewConverter(native, o.cfg.Downmix, frames)
	if err != nil {
		return err
	}

	stream, err := o.engine.OpenInputStream(StreamParams{
		SampleRate:      native.SampleRate,
		Channels:        native.Channels,
		FramesPerBuffer: frames,
		VoiceProcessing: false,
	})
	if err != nil {
		return fmt.Errorf("open microphone tap: %w: %v", device.ErrAudioUnitInit, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start microphone tap: %w: %v", device.ErrAudioUnitInit, err)
	}

	o.procMu.Lock()
	o.converters[audio.SourceMicrophone] = conv
	o.procMu.Unlock()

	o.mic = newMicPipeline(stream, frames*native.Channels, o.jobs)
	go o.mic.run()
	log.Printf("🎙️ Microphone pipeline up (%.0f Hz, %d ch)", native.SampleRate, native.Channels)
	return nil
}

// startSystemLocked attaches the low-level capture to the named
// loopback device, installing the converter before frame delivery
// begins so no early render cycle is lost.
func (o *Orchestrator) startSystemLocked() error {
	jobs := o.jobs
	sys := device.NewCapture(o.deviceBackend, func(f *device.Frame) {
		select {
		case jobs <- captureJob{source: audio.SourceSystemAudio, frame: f}:
		default:
			f.Release()
			o.metrics.ChunkDropped(audio.SourceSystemAudio.String())
		}
	})

	if err := sys.Open(o.cfg.DeviceIdentifier); err != nil {
		return err
	}

	native := sys.NativeFormat()
	conv, err := audio.NewConverter(native, o.cfg.Downmix, int(native.SampleRate/10))
	if err != nil {
		sys.Stop()
		return err
	}
	o.procMu.Lock()
	o.converters[audio.SourceSystemAudio] = conv
	o.procMu.Unlock()

	if err := sys.Run(); err != nil {
		sys.Stop()
		return err
	}
	o.sys = sys
	return nil
}

// Running reports whether capture is active (possibly paused).
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Stop is unconditional and idempotent, callable from any thread.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.paused = false
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.stopPipelinesLocked()
	quit, done := o.quit, o.workerDone
	o.jobs, o.quit, o.workerDone = nil, nil, nil
	o.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}
	log.Printf("🛑 Capture stopped")
}

func (o *Orchestrator) stopPipelinesLocked() {
	if o.mic != nil {
		o.mic.stop()
		o.mic = nil
	}
	if o.sys != nil {
		o.sys.Stop()
		o.sys = nil
	}
	if o.engineUp {
		if err := o.engine.Terminate(); err != nil {
			log.Printf("⚠️  Engine terminate: %v", err)
		}
		o.engineUp = false
	}
	o.metrics.PipelineUp(audio.SourceMicrophone.String(), false)
	o.metrics.PipelineUp(audio.SourceSystemAudio.String(), false)
}

// Pause suspends the microphone engine and fully stops the device
// path, which has no native pause primitive. The processing queue
// stays up; it simply runs dry.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.paused {
		return
	}
	o.stopPipelinesLocked()
	o.paused = true
	log.Printf("⏸️  Capture paused")
}

// Resume reconstructs both pipelines. Gate state is reset: audio from
// before the pause must not leak into the next onset's pre-roll.
func (o *Orchestrator) Resume() error {
	var failures []pipelineFailure
	defer func() {
		for _, f := range failures {
			o.delegate.OnCaptureError(f.err, f.source)
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || !o.paused {
		return nil
	}

	o.procMu.Lock()
	for _, g := range o.gates {
		g.Reset()
	}
	o.procMu.Unlock()

	failures = o.startPipelinesLocked(failures)
	if len(failures) == 2 {
		return fmt.Errorf("resume: microphone (%v), system audio (%v): %w",
			failures[0].err, failures[1].err, ErrInvalidInputFormat)
	}
	o.paused = false
	log.Printf("▶️  Capture resumed")
	return nil
}

// onDeviceChange coalesces hardware-reconfiguration signals: repeated
// notifications within the debounce window collapse to one restart.
func (o *Orchestrator) onDeviceChange(deviceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.cfg.Debounce, func() {
		o.restartForDeviceChange(deviceID)
	})
}

func (o *Orchestrator) restartForDeviceChange(deviceID string) {
	log.Printf("🔄 Device configuration changed (%q), restarting capture", deviceID)
	o.metrics.DeviceRestart()
	o.delegate.OnDeviceChanged(deviceID, audio.SourceMicrophone)
	o.Stop()
	if err := o.Start(); err != nil {
		log.Printf("❌ Restart after device change failed: %v", err)
	}
}

// processLoop is the dedicated background serial queue: conversion and
// VAD for both sources, strictly in arrival order per source.
func (o *Orchestrator) processLoop(jobs <-chan captureJob, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case j := <-jobs:
			o.processJob(j)
		case <-quit:
			return
		}
	}
}

func (o *Orchestrator) processJob(j captureJob) {
	defer func() {
		// A conversion fault drops the chunk; it never takes the
		// queue down.
		if r := recover(); r != nil {
			log.Printf("❌ Conversion failed for %s, chunk dropped: %v", j.source, r)
			o.metrics.ConversionError(j.source.String())
		}
	}()

	o.procMu.Lock()
	defer o.procMu.Unlock()

	conv := o.converters[j.source]
	gate := o.gates[j.source]

	var chunks [][]byte
	if j.frame != nil {
		if conv != nil {
			chunks = conv.ConvertBytes(j.frame.Bytes())
		}
		j.frame.Release()
	} else {
		if conv != nil {
			chunks = conv.ConvertFloat32(j.f32)
		}
		if j.free != nil {
			select {
			case j.free <- j.f32[:cap(j.f32)]:
			default:
			}
		}
	}
	if gate == nil {
		return
	}

	for _, c := range chunks {
		o.metrics.ChunkCaptured(j.source.String())
		before := gate.State()
		for _, out := range gate.Process(c) {
			o.metrics.ChunkEmitted(j.source.String())
			o.delegate.OnCapturedChunk(out, j.source)
		}
		if after := gate.State(); after != before {
			o.metrics.GateTransition(j.source.String(), after.String())
		}
	}
}

// micPipeline runs the blocking-read microphone tap, copying each
// buffer into a pre-allocated slot and enqueueing it without blocking.
type micPipeline struct {
	stream InputStream
	buf    []float32
	free   chan []float32
	jobs   chan<- captureJob

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newMicPipeline(stream InputStream, bufLen int, jobs chan<- captureJob) *micPipeline {
	p := &micPipeline{
		stream: stream,
		buf:    make([]float32, bufLen),
		free:   make(chan []float32, micSlots),
		jobs:   jobs,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := 0; i < micSlots; i++ {
		p.free <- make([]float32, bufLen)
	}
	return p
}

func (p *micPipeline) run() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		if err := p.stream.Read(p.buf); err != nil {
			// Reads race stream teardown; back off briefly in
			// case this was a transient glitch instead.
			select {
			case <-p.quit:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		var slot []float32
		select {
		case slot = <-p.free:
		default:
			continue // consumer behind, drop the cycle
		}
		n := copy(slot, p.buf)

		select {
		case p.jobs <- captureJob{source: audio.SourceMicrophone, f32: slot[:n], free: p.free}:
		default:
			p.free <- slot
		}
	}
}

func (p *micPipeline) stop() {
	p.quitOnce.Do(func() { close(p.quit) })
	if err := p.stream.Stop(); err != nil {
		log.Printf("⚠️  Microphone tap stop: %v", err)
	}
	if err := p.stream.Close(); err != nil {
		log.Printf("⚠️  Microphone tap close: %v", err)
	}
	<-p.done
}
