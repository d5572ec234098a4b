// Copyright 2025 Ziya Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry metrics and traces for the
// streaming runtime. Metrics export through the Prometheus bridge and are
// served by the HTTP frontend at /metrics.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// StreamMetrics records per-stream counters and distributions. All methods
// are nil-safe so disabled metrics cost one branch.
type StreamMetrics struct {
	eventsSent     metric.Int64Counter
	bytesSent      metric.Int64Counter
	chunkSize      metric.Int64Histogram
	iterations     metric.Int64Counter
	toolExecutions metric.Int64Counter
	toolSuccesses  metric.Int64Counter
	emptyToolCalls metric.Int64Counter
}

// InitMetrics builds the meter provider with a Prometheus reader and the
// ziya_stream_* instruments. Disabled returns a nil StreamMetrics, which
// every recording method tolerates.
func InitMetrics(enabled bool) (*StreamMetrics, error) {
	if !enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("ziya")

	m := &StreamMetrics{}
	if m.eventsSent, err = meter.Int64Counter("ziya_stream_events_total",
		metric.WithDescription("SSE events sent")); err != nil {
		return nil, err
	}
	if m.bytesSent, err = meter.Int64Counter("ziya_stream_bytes_total",
		metric.WithDescription("SSE payload bytes sent")); err != nil {
		return nil, err
	}
	if m.chunkSize, err = meter.Int64Histogram("ziya_stream_chunk_size_bytes",
		metric.WithDescription("SSE payload size distribution")); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Counter("ziya_stream_iterations_total",
		metric.WithDescription("Tool-loop iterations run")); err != nil {
		return nil, err
	}
	if m.toolExecutions, err = meter.Int64Counter("ziya_stream_tool_executions_total",
		metric.WithDescription("Tool calls executed")); err != nil {
		return nil, err
	}
	if m.toolSuccesses, err = meter.Int64Counter("ziya_stream_tool_successes_total",
		metric.WithDescription("Tool calls that returned without error")); err != nil {
		return nil, err
	}
	if m.emptyToolCalls, err = meter.Int64Counter("ziya_stream_empty_tool_calls_total",
		metric.WithDescription("Tool calls arriving with no usable arguments")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordEvent counts one outbound SSE event of the given payload type.
func (m *StreamMetrics) RecordEvent(ctx context.Context, eventType string, payloadBytes int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	m.eventsSent.Add(ctx, 1, attrs)
	m.bytesSent.Add(ctx, int64(payloadBytes), attrs)
	m.chunkSize.Record(ctx, int64(payloadBytes), attrs)
}

// RecordIteration counts one loop iteration.
func (m *StreamMetrics) RecordIteration(ctx context.Context) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1)
}

// RecordToolExecution counts one executed tool call.
func (m *StreamMetrics) RecordToolExecution(ctx context.Context, toolName string, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", toolName))
	m.toolExecutions.Add(ctx, 1, attrs)
	if success {
		m.toolSuccesses.Add(ctx, 1, attrs)
	}
}

// RecordEmptyToolCall counts one tool call that carried no usable input.
func (m *StreamMetrics) RecordEmptyToolCall(ctx context.Context) {
	if m == nil {
		return
	}
	m.emptyToolCalls.Add(ctx, 1)
}
