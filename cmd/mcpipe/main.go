// Copyright 2020 The go-mcproto Authors
// This file is part of go-mcproto.
//
// go-mcproto is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-mcproto is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-mcproto. If not, see <http://www.gnu.org/licenses/>.

// mcpipe is a re-framing proxy for offline-mode servers. It terminates the
// Minecraft framing layer on both sides, so packets can be logged, counted
// and recorded while the session runs, and tracks the handshake, compression
// and state transitions it relays.
//
// Sessions that negotiate encryption cannot be relayed: the shared secret
// never crosses the wire in the clear. mcpipe drops such sessions when the
// server sends an encryption request.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v2"

	"github.com/Twister915/go-mcproto/bridge"
	"github.com/Twister915/go-mcproto/capture"
	"github.com/Twister915/go-mcproto/protocol"
)

var log = logrus.New()

var (
	packetsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpipe_packets_relayed_total",
		Help: "Packets relayed, by direction.",
	}, []string{"direction"})
	bytesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpipe_body_bytes_relayed_total",
		Help: "Packet body bytes relayed, by direction.",
	}, []string{"direction"})
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpipe_sessions_active",
		Help: "Sessions currently being relayed.",
	})
)

type config struct {
	Listen   string `yaml:"listen"`
	Upstream string `yaml:"upstream"`
	Metrics  string `yaml:"metrics"`
	Record   string `yaml:"record"`
}

func main() {
	app := cli.NewApp()
	app.Name = "mcpipe"
	app.Usage = "relay, inspect and record Minecraft sessions"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "YAML config file"},
		cli.StringFlag{Name: "listen", Usage: "local listen address", Value: ":25566"},
		cli.StringFlag{Name: "upstream", Usage: "upstream server address", Value: "127.0.0.1:25565"},
		cli.StringFlag{Name: "metrics", Usage: "Prometheus listen address (empty disables)"},
		cli.StringFlag{Name: "record", Usage: "capture store directory (empty disables)"},
		cli.BoolFlag{Name: "verbose, v", Usage: "log every packet"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(ctx *cli.Context) (config, error) {
	cfg := config{
		Listen:   ctx.String("listen"),
		Upstream: ctx.String("upstream"),
		Metrics:  ctx.String("metrics"),
		Record:   ctx.String("record"),
	}
	if path := ctx.String("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var file config
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return cfg, fmt.Errorf("parse %s: %v", path, err)
		}
		// Flags given explicitly win over the file.
		if !ctx.IsSet("listen") && file.Listen != "" {
			cfg.Listen = file.Listen
		}
		if !ctx.IsSet("upstream") && file.Upstream != "" {
			cfg.Upstream = file.Upstream
		}
		if !ctx.IsSet("metrics") && file.Metrics != "" {
			cfg.Metrics = file.Metrics
		}
		if !ctx.IsSet("record") && file.Record != "" {
			cfg.Record = file.Record
		}
	}
	return cfg, nil
}

func run(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	var store *capture.Store
	if cfg.Record != "" {
		store, err = capture.Open(cfg.Record)
		if err != nil {
			return err
		}
		defer store.Close()
		log.Infof("recording to %s", cfg.Record)
	}

	if cfg.Metrics != "" {
		prometheus.MustRegister(packetsRelayed, bytesRelayed, sessionsActive)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics, nil); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
		log.Infof("metrics on %s/metrics", cfg.Metrics)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	log.Infof("listening on %s, relaying to %s", cfg.Listen, cfg.Upstream)
	for {
		client, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			sessionsActive.Inc()
			defer sessionsActive.Dec()
			if err := relay(client, cfg.Upstream, store); err != nil {
				log.Warnf("session %s: %v", client.RemoteAddr(), err)
			}
		}()
	}
}

// session is one relayed connection. The two pump goroutines share the
// control mutex: compression and state changes observed on one leg must be
// applied to all four halves, and the quiet leg only resumes after the
// trigger packet has been forwarded.
type session struct {
	client, upstream *bridge.Conn
	store            *capture.Store

	mu sync.Mutex
}

func relay(clientFd net.Conn, upstreamAddr string, store *capture.Store) error {
	defer clientFd.Close()
	upstream, err := bridge.Dial(upstreamAddr)
	if err != nil {
		return fmt.Errorf("dial upstream: %v", err)
	}
	defer upstream.Close()

	s := &session{client: bridge.Server(clientFd), upstream: upstream, store: store}
	log.Infof("session %s started", clientFd.RemoteAddr())

	var g errgroup.Group
	g.Go(func() error {
		defer upstream.Close()
		return s.pump(s.client, s.upstream, s.inspectServerBound)
	})
	g.Go(func() error {
		defer clientFd.Close()
		return s.pump(s.upstream, s.client, s.inspectClientBound)
	})
	err = g.Wait()
	log.Infof("session %s closed", clientFd.RemoteAddr())
	return err
}

// pump moves packets from one leg to the other until the stream ends.
// inspect runs after the packet has been forwarded, when both legs agree on
// what has been sent so far.
func (s *session) pump(from, to *bridge.Conn, inspect func(protocol.RawPacket) error) error {
	for {
		pkt, err := from.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Debugf("%v, %d byte body", pkt.ID, len(pkt.Body))
		if s.store != nil {
			if _, err := s.store.Append(pkt); err != nil {
				return err
			}
		}
		if err := to.WriteRawPacket(pkt); err != nil {
			return err
		}
		packetsRelayed.WithLabelValues(pkt.ID.Direction.String()).Inc()
		bytesRelayed.WithLabelValues(pkt.ID.Direction.String()).Add(float64(len(pkt.Body)))
		if err := inspect(pkt); err != nil {
			return err
		}
	}
}

// inspectServerBound watches for the handshake, which fixes the next state
// of both legs.
func (s *session) inspectServerBound(pkt protocol.RawPacket) error {
	if pkt.ID.State != protocol.Handshaking || pkt.ID.ID != 0x00 {
		return nil
	}
	next, err := handshakeNextState(pkt.Body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client.SetState(next)
	s.upstream.SetState(next)
	s.mu.Unlock()
	log.Debugf("state -> %v", next)
	return nil
}

// inspectClientBound watches the login sequence: set-compression enables the
// compression layer on both legs, login success moves to Play, and an
// encryption request ends the session since the relay can never learn the
// shared secret.
func (s *session) inspectClientBound(pkt protocol.RawPacket) error {
	if pkt.ID.State != protocol.Login {
		return nil
	}
	switch pkt.ID.ID {
	case 0x01: // encryption request
		return errors.New("server requires encryption, cannot relay")
	case 0x02: // login success
		s.mu.Lock()
		s.client.SetState(protocol.Play)
		s.upstream.SetState(protocol.Play)
		s.mu.Unlock()
		log.Debugf("state -> %v", protocol.Play)
	case 0x03: // set compression
		threshold, _, err := protocol.Varint(pkt.Body)
		if err != nil {
			return fmt.Errorf("malformed set-compression: %v", err)
		}
		s.mu.Lock()
		s.client.SetCompressionThreshold(int(threshold))
		s.upstream.SetCompressionThreshold(int(threshold))
		s.mu.Unlock()
		log.Debugf("compression threshold -> %d", threshold)
	}
	return nil
}

// handshakeNextState pulls the trailing next-state field out of a handshake
// body: protocol version VarInt, server address string, port, next state.
func handshakeNextState(body []byte) (protocol.State, error) {
	_, n, err := protocol.Varint(body)
	if err != nil {
		return 0, fmt.Errorf("malformed handshake: %v", err)
	}
	body = body[n:]
	_, n, err = protocol.String(body)
	if err != nil {
		return 0, fmt.Errorf("malformed handshake: %v", err)
	}
	body = body[n:]
	if len(body) < 2 {
		return 0, errors.New("malformed handshake: missing port")
	}
	body = body[2:]
	next, _, err := protocol.Varint(body)
	if err != nil {
		return 0, fmt.Errorf("malformed handshake: %v", err)
	}
	switch next {
	case 1:
		return protocol.Status, nil
	case 2:
		return protocol.Login, nil
	default:
		return 0, fmt.Errorf("handshake requests unknown state %d", next)
	}
}
