// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitoring

import (
	"sync"
	"time"

	"github.com/verdantops/supportpilot/services/llm"
)

// Monitor is the facade the HTTP surface talks to. It owns the generator,
// the threshold checker, and the analysis agent, and ties their lifecycles
// together: starting the monitor starts event generation and the analysis
// loop; stopping halts both.
type Monitor struct {
	generator *EventGenerator
	checker   *ThresholdChecker
	agent     *Agent

	mu        sync.Mutex
	agentDone chan struct{}
}

// NewMonitor wires a stopped monitoring stack. A non-positive interval uses
// the default cadence.
func NewMonitor(client llm.LLMClient, processor TicketProcessor, interval time.Duration) *Monitor {
	checker := NewThresholdChecker()
	return &Monitor{
		generator: NewEventGenerator(interval, checker),
		checker:   checker,
		agent:     NewAgent(client, processor),
	}
}

// Start begins event generation and analysis. Idempotent.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.generator.Start() {
		return false
	}
	m.agentDone = make(chan struct{})
	go m.agent.Run(m.agentDone, m.generator.Flagged(), func() []LogEvent {
		return m.generator.Events(50)
	})
	return true
}

// Stop halts generation and analysis. Idempotent.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.generator.Stop() {
		return false
	}
	close(m.agentDone)
	m.agentDone = nil
	return true
}

// Running reports whether the stack is active.
func (m *Monitor) Running() bool {
	return m.generator.Running()
}

// Clear drops buffered events, issues, alerts, and baselines. The running
// state is unchanged.
func (m *Monitor) Clear() {
	m.generator.Clear()
	m.checker.Reset()
	m.agent.Clear()
}

// Events returns recent events, newest first.
func (m *Monitor) Events(limit int) []LogEvent {
	return m.generator.Events(limit)
}

// Issues returns generated issues, newest first.
func (m *Monitor) Issues() []Issue {
	return m.agent.Issues()
}

// Alerts returns generated alerts, newest first.
func (m *Monitor) Alerts() []Alert {
	return m.agent.Alerts()
}
