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

package alerting

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConditionKind enumerates the closed set of rule families. Expressions that
// do not parse into one of these are skipped, never guessed.
type ConditionKind string

const (
	CondDeviceDown        ConditionKind = "device_down"
	CondDeviceDownFor     ConditionKind = "device_down_for"
	CondFlapping          ConditionKind = "flapping"
	CondHighLatency       ConditionKind = "high_latency"
	CondPacketLoss        ConditionKind = "packet_loss"
	CondInterfaceOperDown ConditionKind = "interface_oper_down"
	CondISPLinkDown       ConditionKind = "isp_link_down"
	CondMetricThreshold   ConditionKind = "metric_threshold"
)

var (
	// ErrUnknownCondition indicates the expression names no known family.
	ErrUnknownCondition = errors.New("unknown alert condition")
	// ErrMalformedExpression indicates arguments that do not fit the family.
	ErrMalformedExpression = errors.New("malformed alert expression")
)

// Condition is a parsed rule expression.
type Condition struct {
	Kind ConditionKind

	// device_down_for
	Duration time.Duration

	// high_latency (ms) and packet_loss (percent)
	Threshold float64

	// interface_oper_down
	Pattern *regexp.Regexp

	// isp_link_down
	Provider string

	// metric_threshold
	Metric string
	Op     string
	Value  float64
}

// exprShape matches "name" or "name(args)".
var exprShape = regexp.MustCompile(`^([a-z_]+)\s*(?:\(\s*(.*?)\s*\))?$`)

// thresholdShape matches "metric op value", e.g. "cpu_util > 90".
var thresholdShape = regexp.MustCompile(`^(\S+)\s*(>=|<=|>|<|==|!=)\s*(-?\d+(?:\.\d+)?)$`)

// ParseExpression turns a stored rule expression into a Condition.
//
// Supported forms:
//
//	device_down
//	device_down_for(300)          seconds
//	flapping
//	high_latency(150)             milliseconds, compared against avg RTT
//	packet_loss(20)               percent
//	interface_oper_down(Gi0/.*)   regexp over ifName and ifAlias
//	isp_link_down(telmex)         provider label, empty means any
//	metric_threshold(cpu_util > 90)
func ParseExpression(expr string) (*Condition, error) {
	m := exprShape.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedExpression, expr)
	}

	name, arg := m[1], m[2]

	switch ConditionKind(name) {
	case CondDeviceDown:
		return &Condition{Kind: CondDeviceDown}, nil

	case CondFlapping:
		return &Condition{Kind: CondFlapping}, nil

	case CondDeviceDownFor:
		secs, err := strconv.Atoi(arg)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%w: device_down_for wants positive seconds, got %q", ErrMalformedExpression, arg)
		}

		return &Condition{Kind: CondDeviceDownFor, Duration: time.Duration(secs) * time.Second}, nil

	case CondHighLatency:
		ms, err := strconv.ParseFloat(arg, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("%w: high_latency wants positive milliseconds, got %q", ErrMalformedExpression, arg)
		}

		return &Condition{Kind: CondHighLatency, Threshold: ms}, nil

	case CondPacketLoss:
		pct, err := strconv.ParseFloat(arg, 64)
		if err != nil || pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("%w: packet_loss wants a percent in (0,100], got %q", ErrMalformedExpression, arg)
		}

		return &Condition{Kind: CondPacketLoss, Threshold: pct}, nil

	case CondInterfaceOperDown:
		if arg == "" {
			return nil, fmt.Errorf("%w: interface_oper_down wants a pattern", ErrMalformedExpression)
		}

		pattern, err := regexp.Compile(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: interface_oper_down pattern: %w", ErrMalformedExpression, err)
		}

		return &Condition{Kind: CondInterfaceOperDown, Pattern: pattern}, nil

	case CondISPLinkDown:
		return &Condition{Kind: CondISPLinkDown, Provider: strings.ToLower(arg)}, nil

	case CondMetricThreshold:
		tm := thresholdShape.FindStringSubmatch(arg)
		if tm == nil {
			return nil, fmt.Errorf("%w: metric_threshold wants \"metric op value\", got %q", ErrMalformedExpression, arg)
		}

		value, err := strconv.ParseFloat(tm[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: metric_threshold value: %w", ErrMalformedExpression, err)
		}

		return &Condition{Kind: CondMetricThreshold, Metric: tm[1], Op: tm[2], Value: value}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, name)
	}
}

// compare applies a metric_threshold operator.
func compare(sample float64, op string, value float64) bool {
	switch op {
	case ">":
		return sample > value
	case ">=":
		return sample >= value
	case "<":
		return sample < value
	case "<=":
		return sample <= value
	case "==":
		return sample == value
	case "!=":
		return sample != value
	default:
		return false
	}
}
