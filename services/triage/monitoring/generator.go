// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitoring

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/supportpilot/services/triage/observability"
)

// Generator defaults.
const (
	// DefaultEventInterval spaces generated events, roughly 30 per minute.
	DefaultEventInterval = 2 * time.Second

	// maxBufferedEvents bounds the in-memory event ring.
	maxBufferedEvents = 500

	// flaggedChannelSize bounds the queue between the generator and the
	// analysis agent. When the agent falls behind, flagged events are
	// dropped rather than blocking generation.
	flaggedChannelSize = 64
)

var regions = []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1", "ap-northeast-1"}

var servicesByType = map[EventType][]string{
	EventAPI:            {"auth-api", "user-api", "payment-api", "product-api", "search-api"},
	EventDatabase:       {"postgres-primary", "postgres-replica", "redis-cache", "mongo-db"},
	EventFrontend:       {"web-app", "mobile-app", "admin-dashboard"},
	EventInfrastructure: {"k8s-cluster", "load-balancer", "cdn", "storage"},
}

var eventTypes = []EventType{EventAPI, EventDatabase, EventFrontend, EventInfrastructure}

var apiEndpoints = []string{
	"/api/v1/users", "/api/v1/auth/login", "/api/v1/products",
	"/api/v1/orders", "/api/v1/payments", "/api/v1/search",
}

var dbQueries = []string{
	"SELECT * FROM users WHERE id = ?",
	"UPDATE orders SET status = ? WHERE id = ?",
	"INSERT INTO audit_log VALUES (?, ?, ?)",
	"SELECT COUNT(*) FROM products WHERE category = ?",
	"DELETE FROM sessions WHERE expires_at < ?",
}

var jsErrors = []string{
	"TypeError: Cannot read property 'data' of undefined",
	"ReferenceError: fetchUser is not defined",
	"NetworkError: Failed to fetch",
	"ChunkLoadError: Loading chunk 3 failed",
	"SecurityError: Blocked a frame with origin",
}

// EventGenerator produces a synthetic telemetry stream on a background
// goroutine. Events are checked against thresholds as they are created;
// flagged ones are additionally published on the Flagged channel.
//
// Start and Stop are idempotent. All mutable state is guarded by one mutex.
type EventGenerator struct {
	interval time.Duration
	checker  *ThresholdChecker

	mu      sync.Mutex
	running bool
	done    chan struct{}
	events  []LogEvent
	rng     *rand.Rand

	// Anomaly bursts pin a service so violations repeat and can escalate.
	anomalyService string
	anomalyCount   int

	flagged chan LogEvent
}

// NewEventGenerator builds a stopped generator. A non-positive interval
// picks up the default.
func NewEventGenerator(interval time.Duration, checker *ThresholdChecker) *EventGenerator {
	if interval <= 0 {
		interval = DefaultEventInterval
	}
	return &EventGenerator{
		interval: interval,
		checker:  checker,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		flagged:  make(chan LogEvent, flaggedChannelSize),
	}
}

// Flagged returns the channel carrying threshold-violating events.
func (g *EventGenerator) Flagged() <-chan LogEvent {
	return g.flagged
}

// Start launches the generation loop. Returns false if already running.
func (g *EventGenerator) Start() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	g.done = make(chan struct{})
	go g.loop(g.done)
	slog.Info("Event generator started", "interval", g.interval)
	return true
}

// Stop halts the generation loop. Returns false if already stopped.
func (g *EventGenerator) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return false
	}
	g.running = false
	close(g.done)
	slog.Info("Event generator stopped")
	return true
}

// Running reports whether the loop is active.
func (g *EventGenerator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Events returns buffered events newest first. limit <= 0 returns all.
func (g *EventGenerator) Events(limit int) []LogEvent {
	g.mu.Lock()
	out := append([]LogEvent(nil), g.events...)
	g.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clear empties the event buffer.
func (g *EventGenerator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = nil
}

func (g *EventGenerator) loop(done chan struct{}) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			g.emit()
		}
	}
}

// emit creates, checks, records, and publishes one event.
func (g *EventGenerator) emit() {
	event := g.nextEvent()
	if g.checker != nil {
		g.checker.Check(&event)
	}
	g.record(event)
	if m := observability.DefaultMetrics; m != nil {
		m.MonitoringEventsTotal.WithLabelValues(strconv.FormatBool(event.Flagged)).Inc()
	}

	if event.Flagged {
		select {
		case g.flagged <- event:
		default:
			slog.Warn("Flagged event dropped, analysis queue full", "event_id", event.EventID)
		}
	}
}

func (g *EventGenerator) record(event LogEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
	if len(g.events) > maxBufferedEvents {
		g.events = g.events[len(g.events)-maxBufferedEvents:]
	}
}

// nextEvent rolls the event type and anomaly state, then builds the event.
// Roughly 15% of events are anomalous; anomalies stick to one service for a
// short burst so the threshold checker sees consecutive violations.
func (g *EventGenerator) nextEvent() LogEvent {
	g.mu.Lock()
	anomalous := g.rng.Float64() < 0.15
	eventType := eventTypes[g.rng.Intn(len(eventTypes))]

	if anomalous && (g.anomalyService == "" || g.rng.Float64() < 0.3) {
		pool := servicesByType[eventType]
		g.anomalyService = pool[g.rng.Intn(len(pool))]
		g.anomalyCount = 0
	}
	if g.anomalyService != "" {
		g.anomalyCount++
		if g.anomalyCount >= 5 {
			g.anomalyService = ""
			g.anomalyCount = 0
		}
	}
	pinned := g.anomalyService
	rng := g.rng
	g.mu.Unlock()

	service := func(t EventType) string {
		if anomalous && pinned != "" {
			for _, s := range servicesByType[t] {
				if s == pinned {
					return s
				}
			}
		}
		pool := servicesByType[t]
		return pool[rng.Intn(len(pool))]
	}

	base := LogEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now(),
		EventType: eventType,
		Region:    regions[rng.Intn(len(regions))],
		Metrics:   map[string]float64{},
	}
	if rng.Float64() < 0.6 {
		base.CustomerID = fmt.Sprintf("cust_%05d", rng.Intn(100)+1)
	}

	switch eventType {
	case EventAPI:
		base.ServiceName = service(EventAPI)
		endpoint := apiEndpoints[rng.Intn(len(apiEndpoints))]
		if anomalous {
			base.Metrics["latency_ms"] = 500 + rng.Float64()*300
			base.Metrics["status_code"] = float64([]int{500, 503, 429}[rng.Intn(3)])
			base.Severity = SeverityError
		} else {
			base.Metrics["latency_ms"] = 50 + rng.Float64()*400
			base.Metrics["status_code"] = float64([]int{200, 200, 200, 201, 400, 404}[rng.Intn(6)])
			base.Severity = SeverityInfo
			if base.Metrics["status_code"] >= 400 {
				base.Severity = SeverityWarning
			}
		}
		base.Message = fmt.Sprintf("%s - %d", endpoint, int(base.Metrics["status_code"]))
	case EventDatabase:
		base.ServiceName = service(EventDatabase)
		query := dbQueries[rng.Intn(len(dbQueries))]
		if anomalous {
			base.Metrics["query_time_ms"] = 300 + rng.Float64()*200
			base.Severity = SeverityError
		} else {
			base.Metrics["query_time_ms"] = 10 + rng.Float64()*240
			base.Severity = SeverityInfo
		}
		base.Metrics["rows_affected"] = float64(rng.Intn(1000))
		base.Message = "Query executed: " + query
	case EventFrontend:
		base.ServiceName = service(EventFrontend)
		if anomalous {
			base.Metrics["load_time_ms"] = 5000 + rng.Float64()*3000
			base.Severity = SeverityError
			base.Message = "Page load error: " + jsErrors[rng.Intn(len(jsErrors))]
		} else {
			base.Metrics["load_time_ms"] = 500 + rng.Float64()*4000
			base.Severity = SeverityInfo
			base.Message = "Page loaded successfully"
		}
		base.Metrics["bundle_size_kb"] = 200 + rng.Float64()*600
	default:
		base.ServiceName = service(EventInfrastructure)
		if anomalous {
			base.Metrics["cpu_percent"] = 90 + rng.Float64()*5
			base.Metrics["memory_percent"] = 95 + rng.Float64()*3
			base.Severity = SeverityCritical
		} else {
			base.Metrics["cpu_percent"] = 20 + rng.Float64()*65
			base.Metrics["memory_percent"] = 40 + rng.Float64()*50
			base.Severity = SeverityInfo
		}
		base.Message = "Resource utilization report"
	}
	return base
}
