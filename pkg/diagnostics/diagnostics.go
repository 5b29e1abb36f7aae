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

// Package diagnostics runs on-demand connectivity checks against a single
// target: ICMP burst, DNS resolution, TCP port probe, and the external
// traceroute and mtr tools when installed. Checks run concurrently and a
// failing check reports itself without sinking the rest.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/probe"
)

// Check names accepted by Run.
const (
	CheckPing       = "ping"
	CheckDNS        = "dns"
	CheckPortScan   = "portscan"
	CheckTraceroute = "traceroute"
	CheckMTR        = "mtr"
)

const (
	toolTimeout    = 30 * time.Second
	dialTimeout    = 2 * time.Second
	resolveTimeout = 5 * time.Second

	mtrCycles = 5
)

// defaultPorts are probed when the caller does not name any.
var defaultPorts = []int{22, 23, 80, 161, 443, 830, 8080}

var (
	ErrUnknownCheck = errors.New("unknown diagnostic check")
	ErrNoTarget     = errors.New("target is required")
)

// Prober issues ICMP bursts.
type Prober interface {
	Probe(ctx context.Context, addr string) (*probe.Result, error)
}

// Result is the outcome of one check. Output carries raw tool output for
// traceroute and mtr; structured checks fill Data instead.
type Result struct {
	Check      string      `json:"check"`
	OK         bool        `json:"ok"`
	Error      string      `json:"error,omitempty"`
	DurationMs float64     `json:"duration_ms"`
	Output     string      `json:"output,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Report bundles all requested checks for one target.
type Report struct {
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	Results   []Result  `json:"results"`
}

// Runner executes diagnostic checks.
type Runner struct {
	prober Prober
	logger logger.Logger

	// lookPath and runTool are swappable in tests.
	lookPath func(name string) (string, error)
	runTool  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewRunner builds a Runner. The prober may be nil, which turns the ping
// check into an error result.
func NewRunner(prober Prober, log logger.Logger) *Runner {
	return &Runner{
		prober:   prober,
		logger:   log.WithComponent("diagnostics"),
		lookPath: exec.LookPath,
		runTool: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Run executes the named checks concurrently. Unknown check names fail fast
// before anything runs.
func (r *Runner) Run(ctx context.Context, target string, checks []string, ports []int) (*Report, error) {
	if target == "" {
		return nil, ErrNoTarget
	}

	if len(checks) == 0 {
		checks = []string{CheckPing, CheckDNS}
	}

	for _, c := range checks {
		switch c {
		case CheckPing, CheckDNS, CheckPortScan, CheckTraceroute, CheckMTR:
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, c)
		}
	}

	report := &Report{Target: target, StartedAt: time.Now().UTC()}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, check := range checks {
		g.Go(func() error {
			res := r.runCheck(gctx, check, target, ports)

			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Check < report.Results[j].Check
	})

	return report, nil
}

func (r *Runner) runCheck(ctx context.Context, check, target string, ports []int) Result {
	start := time.Now()

	var res Result

	switch check {
	case CheckPing:
		res = r.ping(ctx, target)
	case CheckDNS:
		res = r.dns(ctx, target)
	case CheckPortScan:
		res = r.portScan(ctx, target, ports)
	case CheckTraceroute:
		res = r.tool(ctx, "traceroute", "-n", "-w", "2", target)
	case CheckMTR:
		res = r.tool(ctx, "mtr", "--report", "--report-cycles", strconv.Itoa(mtrCycles), "-n", target)
	}

	res.Check = check
	res.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)

	return res
}

func (r *Runner) ping(ctx context.Context, target string) Result {
	if r.prober == nil {
		return Result{Error: "prober unavailable"}
	}

	pr, err := r.prober.Probe(ctx, target)
	if err != nil {
		return Result{Error: err.Error()}
	}

	return Result{OK: pr.Reachable, Data: pr}
}

type dnsData struct {
	Addresses []string `json:"addresses,omitempty"`
	Names     []string `json:"names,omitempty"`
}

// dns resolves forward for hostnames and reverse for addresses.
func (r *Runner) dns(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	var (
		resolver net.Resolver
		data     dnsData
		err      error
	)

	if net.ParseIP(target) != nil {
		data.Names, err = resolver.LookupAddr(ctx, target)
	} else {
		data.Addresses, err = resolver.LookupHost(ctx, target)
	}

	if err != nil {
		return Result{Error: err.Error()}
	}

	return Result{OK: true, Data: data}
}

type portResult struct {
	Port int  `json:"port"`
	Open bool `json:"open"`
}

func (r *Runner) portScan(ctx context.Context, target string, ports []int) Result {
	if len(ports) == 0 {
		ports = defaultPorts
	}

	results := make([]portResult, len(ports))

	var wg sync.WaitGroup

	dialer := net.Dialer{Timeout: dialTimeout}

	for i, port := range ports {
		wg.Add(1)

		go func() {
			defer wg.Done()

			addr := net.JoinHostPort(target, strconv.Itoa(port))

			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err == nil {
				_ = conn.Close()
			}

			results[i] = portResult{Port: port, Open: err == nil}
		}()
	}

	wg.Wait()

	open := 0
	for _, pr := range results {
		if pr.Open {
			open++
		}
	}

	return Result{OK: open > 0, Data: results}
}

// tool shells out to an external binary with a hard timeout. A missing binary
// is an error result, not a failure of the whole report.
func (r *Runner) tool(ctx context.Context, name string, args ...string) Result {
	if _, err := r.lookPath(name); err != nil {
		return Result{Error: name + " is not installed"}
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	out, err := r.runTool(ctx, name, args...)
	if err != nil {
		return Result{Error: err.Error(), Output: string(out)}
	}

	return Result{OK: true, Output: string(out)}
}
