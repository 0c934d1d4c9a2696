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

// mcping performs a server-list ping against a Minecraft Java-Edition
// server: handshake, status request, and a ping round-trip for latency.
package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/Twister915/go-mcproto/bridge"
	"github.com/Twister915/go-mcproto/protocol"
)

const protocolVersion = 578 // 1.15.2

var log = logrus.New()

func main() {
	app := cli.NewApp()
	app.Name = "mcping"
	app.Usage = "ping a Minecraft server and print its status"
	app.ArgsUsage = "<host[:port]>"
	app.Flags = []cli.Flag{
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "I/O deadline for the whole exchange",
			Value: 10 * time.Second,
		},
		cli.BoolFlag{
			Name:  "json",
			Usage: "print the raw status JSON instead of a summary",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "log every packet exchanged",
		},
	}
	app.Action = ping
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func ping(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("need exactly one server address", 2)
	}
	if ctx.Bool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	host, port, err := splitHostPort(ctx.Args().First())
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := bridge.Dial(addr)
	if err != nil {
		return fmt.Errorf("connect %s: %v", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(ctx.Duration("timeout"))); err != nil {
		return err
	}

	if err := conn.WritePacket(handshake{host: host, port: port, nextState: protocol.Status}); err != nil {
		return err
	}
	conn.SetState(protocol.Status)

	if err := conn.WritePacket(statusRequest{}); err != nil {
		return err
	}
	status, err := readStatus(conn)
	if err != nil {
		return err
	}

	sent := time.Now()
	if err := conn.WritePacket(pingRequest{payload: sent.UnixNano()}); err != nil {
		return err
	}
	if err := readPong(conn, sent.UnixNano()); err != nil {
		return err
	}
	rtt := time.Since(sent)

	if ctx.Bool("json") {
		fmt.Println(status)
		fmt.Printf("rtt: %v\n", rtt)
		return nil
	}
	return printSummary(status, rtt)
}

func splitHostPort(arg string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(arg)
	if err != nil {
		return arg, 25565, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, uint16(port), nil
}

func readStatus(conn *bridge.Conn) (string, error) {
	pkt, err := conn.ReadPacket()
	if err != nil {
		return "", fmt.Errorf("read status response: %v", err)
	}
	log.Debugf("received %v, %d byte body", pkt.ID, len(pkt.Body))
	if pkt.ID.ID != 0x00 {
		return "", fmt.Errorf("expected status response, got %v", pkt.ID)
	}
	status, _, err := protocol.String(pkt.Body)
	if err != nil {
		return "", fmt.Errorf("malformed status response: %v", err)
	}
	return status, nil
}

func readPong(conn *bridge.Conn, want int64) error {
	pkt, err := conn.ReadPacket()
	if err != nil {
		return fmt.Errorf("read pong: %v", err)
	}
	log.Debugf("received %v, %d byte body", pkt.ID, len(pkt.Body))
	if pkt.ID.ID != 0x01 || len(pkt.Body) != 8 {
		return fmt.Errorf("expected pong, got %v with %d byte body", pkt.ID, len(pkt.Body))
	}
	if got := int64(binary.BigEndian.Uint64(pkt.Body)); got != want {
		return fmt.Errorf("pong payload mismatch: got %d, want %d", got, want)
	}
	return nil
}

func printSummary(status string, rtt time.Duration) error {
	var doc struct {
		Version struct {
			Name     string `json:"name"`
			Protocol int    `json:"protocol"`
		} `json:"version"`
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
		} `json:"players"`
	}
	if err := json.Unmarshal([]byte(status), &doc); err != nil {
		return fmt.Errorf("unparseable status JSON: %v", err)
	}
	fmt.Printf("%s (protocol %d)\n", doc.Version.Name, doc.Version.Protocol)
	fmt.Printf("players: %d/%d\n", doc.Players.Online, doc.Players.Max)
	fmt.Printf("rtt: %v\n", rtt)
	return nil
}

// handshake is serverbound packet 0x00 in the Handshaking state.
type handshake struct {
	host      string
	port      uint16
	nextState protocol.State
}

func (handshake) ID() protocol.Id {
	return protocol.Id{State: protocol.Handshaking, Direction: protocol.ServerBound, ID: 0x00}
}

func (h handshake) EncodeBody(w io.Writer) error {
	body := protocol.AppendVarint(nil, protocolVersion)
	body = protocol.AppendString(body, h.host)
	body = binary.BigEndian.AppendUint16(body, h.port)
	body = protocol.AppendVarint(body, int32(h.nextState))
	_, err := w.Write(body)
	return err
}

// statusRequest is serverbound packet 0x00 in the Status state. Empty body.
type statusRequest struct{}

func (statusRequest) ID() protocol.Id {
	return protocol.Id{State: protocol.Status, Direction: protocol.ServerBound, ID: 0x00}
}

func (statusRequest) EncodeBody(io.Writer) error { return nil }

// pingRequest is serverbound packet 0x01 in the Status state.
type pingRequest struct {
	payload int64
}

func (pingRequest) ID() protocol.Id {
	return protocol.Id{State: protocol.Status, Direction: protocol.ServerBound, ID: 0x01}
}

func (p pingRequest) EncodeBody(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(p.payload))
	_, err := w.Write(buf[:])
	return err
}
