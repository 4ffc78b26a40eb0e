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

package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/murmurlabs/murmur-capture-go/internal/audio"
	"github.com/murmurlabs/murmur-capture-go/internal/capture"
	"github.com/murmurlabs/murmur-capture-go/internal/config"
	"github.com/murmurlabs/murmur-capture-go/internal/device"
	"github.com/murmurlabs/murmur-capture-go/internal/metrics"
	murmurnats "github.com/murmurlabs/murmur-capture-go/internal/nats"
	"github.com/murmurlabs/murmur-capture-go/internal/transport"
	"github.com/murmurlabs/murmur-capture-go/internal/vad"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file")
		deviceID   = flag.String("device", "", "Loopback device identifier override")
		sttURL     = flag.String("stt", "", "STT server WebSocket endpoint override")
		natsURL    = flag.String("nats", "", "NATS server URL override (enables the NATS sink)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		cfg = loaded
	}
	if *deviceID != "" {
		cfg.Device.Identifier = *deviceID
	}
	if *sttURL != "" {
		cfg.STT.Endpoint = *sttURL
		cfg.STT.Enabled = true
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
		cfg.NATS.Enabled = true
	}

	log.Printf("🎧 Murmur capture starting (device %q)", cfg.Device.Identifier)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		go func() {
			log.Printf("📊 Metrics listening on %s", cfg.Metrics.Address)
			if err := http.ListenAndServe(cfg.Metrics.Address, promhttp.Handler()); err != nil {
				log.Printf("⚠️  Metrics server: %v", err)
			}
		}()
	}

	var sinks capture.FanoutDelegate

	if cfg.STT.Enabled {
		stt := transport.NewSTTClient(cfg.STT.Endpoint, func(t transport.Transcript) {
			if t.Final {
				log.Printf("📝 [%s] %s", t.Speaker, t.Text)
			}
		})
		if err := stt.Connect(); err != nil {
			log.Fatalf("❌ %v", err)
		}
		defer stt.Close()
		sinks = append(sinks, stt)
	}

	if cfg.NATS.Enabled {
		pub, err := murmurnats.NewChunkPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	if len(sinks) == 0 {
		log.Fatalf("❌ No sink enabled; enable stt or nats in the configuration")
	}

	downmix, err := audio.ParseDownmixPolicy(cfg.Capture.Downmix)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	orch := capture.NewOrchestrator(capture.Config{
		DeviceIdentifier: cfg.Device.Identifier,
		VAD: vad.Config{
			StartThreshold:  cfg.VAD.StartThreshold,
			EndThreshold:    cfg.VAD.EndThreshold,
			Hangover:        time.Duration(cfg.VAD.HangoverMs) * time.Millisecond,
			PreRollChunks:   cfg.VAD.PreRollChunks,
			ChunkDuration:   audio.ChunkDuration,
			SubsampleStride: cfg.VAD.SubsampleStride,
		},
		Downmix:    downmix,
		QueueDepth: cfg.Capture.QueueDepth,
		Debounce:   time.Duration(cfg.Capture.DebounceMs) * time.Millisecond,
	},
		capture.NewPortAudioBackend(),
		device.NewMalgoBackend(),
		capture.NewChangeBroadcaster(),
		sinks,
		m,
	)

	if err := orch.Start(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer orch.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Printf("👋 Received %v, shutting down", s)
}
