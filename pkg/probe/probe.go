/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package probe sends ICMP echo bursts and summarizes the replies. An
// unreachable target is a valid measurement (100% loss); only a failure to
// probe at all, such as a socket error, surfaces as an error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/carverauto/netwatch/pkg/logger"
)

var (
	// ErrInvalidAddress indicates the target is not a usable IPv4 address.
	ErrInvalidAddress = errors.New("invalid target address")
	// ErrSocketUnavailable indicates no ICMP socket could be opened.
	ErrSocketUnavailable = errors.New("icmp socket unavailable")
)

const (
	protocolICMP   = 1
	maxPacketSize  = 1500
	defaultCount   = 5
	defaultTimeout = time.Second
)

var echoPayload = []byte("netwatch-probe")

// Result summarizes one echo burst against a single target.
type Result struct {
	PacketsSent int
	PacketsRecv int
	LossPct     float64
	MinRTTMs    float64
	AvgRTTMs    float64
	MaxRTTMs    float64
	Reachable   bool
}

// Prober issues ICMP echo bursts. Safe for concurrent use; each probe opens
// its own socket.
type Prober struct {
	count   int
	timeout time.Duration
	logger  logger.Logger
}

// New builds a Prober. Zero count and timeout fall back to 5 echoes and 1s.
func New(count int, timeout time.Duration, log logger.Logger) *Prober {
	if count <= 0 {
		count = defaultCount
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Prober{count: count, timeout: timeout, logger: log.WithComponent("probe")}
}

// Probe sends the echo burst to addr and reports aggregate loss and RTT.
// Reachable means at least one reply arrived before its packet deadline.
func (p *Prober) Probe(ctx context.Context, addr string) (*Result, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	conn, dst, err := openSocket(ip)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	id := os.Getpid() & 0xffff
	rtts := make([]float64, 0, p.count)
	sent := 0

	for seq := 0; seq < p.count; seq++ {
		select {
		case <-ctx.Done():
			return summarize(rtts, sent), ctx.Err()
		default:
		}

		rtt, err := p.exchange(conn, dst, id, seq)

		sent++

		if err != nil {
			continue
		}

		rtts = append(rtts, rtt)
	}

	return summarize(rtts, sent), nil
}

// openSocket prefers the unprivileged datagram socket and falls back to a raw
// socket when the kernel does not allow ping sockets.
func openSocket(ip net.IP) (*icmp.PacketConn, net.Addr, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, &net.UDPAddr{IP: ip}, nil
	}

	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr != nil {
		return nil, nil, fmt.Errorf("%w: udp4: %w, raw: %w", ErrSocketUnavailable, err, rawErr)
	}

	return conn, &net.IPAddr{IP: ip}, nil
}

// exchange sends one echo and waits up to the packet timeout for its reply.
func (p *Prober) exchange(conn *icmp.PacketConn, dst net.Addr, id, seq int) (float64, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: echoPayload},
	}

	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()

	if _, err := conn.WriteTo(wire, dst); err != nil {
		return 0, err
	}

	deadline := start.Add(p.timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	buf := make([]byte, maxPacketSize)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}

		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}

		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}

		// Datagram ping sockets rewrite the ID, so only the sequence is
		// reliable for matching.
		if echo.Seq != seq {
			continue
		}

		return float64(time.Since(start)) / float64(time.Millisecond), nil
	}
}

// summarize folds the collected RTTs into a Result.
func summarize(rtts []float64, sent int) *Result {
	r := &Result{
		PacketsSent: sent,
		PacketsRecv: len(rtts),
		Reachable:   len(rtts) > 0,
	}

	if sent > 0 {
		r.LossPct = 100 * float64(sent-len(rtts)) / float64(sent)
	}

	if len(rtts) == 0 {
		r.LossPct = 100
		if sent == 0 {
			r.LossPct = 0
		}

		return r
	}

	r.MinRTTMs = rtts[0]
	r.MaxRTTMs = rtts[0]

	var sum float64

	for _, rtt := range rtts {
		sum += rtt

		if rtt < r.MinRTTMs {
			r.MinRTTMs = rtt
		}

		if rtt > r.MaxRTTMs {
			r.MaxRTTMs = rtt
		}
	}

	r.AvgRTTMs = sum / float64(len(rtts))

	return r
}
