// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitoring

import "sync"

// ConsecutiveViolationsForCritical is the number of back-to-back threshold
// violations on the same service metric that escalates a flag to critical.
const ConsecutiveViolationsForCritical = 3

const baselineWindow = 100

// thresholdMetrics lists the checked metrics per event type in a fixed
// order so the first-exceeded metric is deterministic.
var thresholdMetrics = map[EventType][]struct {
	name  string
	limit float64
}{
	EventAPI:            {{"latency_ms", 500}},
	EventDatabase:       {{"query_time_ms", 300}},
	EventFrontend:       {{"load_time_ms", 5000}},
	EventInfrastructure: {{"cpu_percent", 90}, {"memory_percent", 95}},
}

// ThresholdResult reports the flagging decision for one event.
type ThresholdResult struct {
	Flagged           bool    `json:"flagged"`
	Critical          bool    `json:"critical"`
	ThresholdExceeded string  `json:"threshold_exceeded,omitempty"`
	ActualValue       float64 `json:"actual_value,omitempty"`
	ThresholdValue    float64 `json:"threshold_value,omitempty"`
	BaselineValue     float64 `json:"baseline_value,omitempty"`
}

// rollingBaseline tracks recent healthy values and the current violation
// streak for one service metric.
type rollingBaseline struct {
	values     []float64
	violations int
}

func (b *rollingBaseline) add(v float64) {
	b.values = append(b.values, v)
	if len(b.values) > baselineWindow {
		b.values = b.values[1:]
	}
}

func (b *rollingBaseline) average() float64 {
	if len(b.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.values {
		sum += v
	}
	return sum / float64(len(b.values))
}

// ThresholdChecker flags events whose metrics exceed static limits and
// escalates sustained violations. Safe for concurrent use.
type ThresholdChecker struct {
	mu        sync.Mutex
	baselines map[string]map[string]*rollingBaseline
}

// NewThresholdChecker builds a checker with empty baselines.
func NewThresholdChecker() *ThresholdChecker {
	return &ThresholdChecker{baselines: make(map[string]map[string]*rollingBaseline)}
}

// Check evaluates the event's metrics and mutates its Flagged/Critical
// markers. Healthy values feed the rolling baseline; a violation resets
// nothing but the streak grows, and three in a row on the same service
// metric turns the flag critical.
func (c *ThresholdChecker) Check(event *LogEvent) ThresholdResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceKey := event.ServiceName + ":" + string(event.EventType)
	metrics, ok := c.baselines[serviceKey]
	if !ok {
		metrics = make(map[string]*rollingBaseline)
		c.baselines[serviceKey] = metrics
	}

	var result ThresholdResult
	for _, th := range thresholdMetrics[event.EventType] {
		actual, present := event.Metrics[th.name]
		if !present {
			continue
		}
		baseline, ok := metrics[th.name]
		if !ok {
			baseline = &rollingBaseline{}
			metrics[th.name] = baseline
		}

		if actual > th.limit {
			baseline.violations++
			result = ThresholdResult{
				Flagged:           true,
				Critical:          baseline.violations >= ConsecutiveViolationsForCritical,
				ThresholdExceeded: th.name,
				ActualValue:       actual,
				ThresholdValue:    th.limit,
				BaselineValue:     baseline.average(),
			}
			break
		}
		baseline.violations = 0
		baseline.add(actual)
	}

	event.Flagged = result.Flagged
	event.Critical = result.Critical
	if result.Critical && event.Severity != SeverityCritical {
		event.Severity = SeverityCritical
	}
	return result
}

// Reset drops all baselines and violation streaks.
func (c *ThresholdChecker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baselines = make(map[string]map[string]*rollingBaseline)
}
