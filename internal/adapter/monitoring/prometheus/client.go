// Package prometheus reads live component metrics from a Prometheus server and
// exports the swarm's own telemetry with client_golang.
package prometheus

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Queries are PromQL templates; %[1]s is replaced by the component id
type Queries struct {
	ResponseTime        string // seconds
	MemoryUsage         string // ratio 0..1
	CPUUsage            string // ratio 0..1
	ErrorRate           string // ratio 0..1
	ConsecutiveFailures string // optional, the healing manager tracks failures itself
}

// DefaultQueries targets the series exported by Recorder and node_exporter
func DefaultQueries() Queries {
	return Queries{
		ResponseTime: `avg(rate(swarm_execution_duration_seconds_sum{worker="%[1]s"}[1m]) / rate(swarm_execution_duration_seconds_count{worker="%[1]s"}[1m]))`,
		MemoryUsage:  `max(process_resident_memory_bytes{instance="%[1]s"}) / max(node_memory_MemTotal_bytes{instance="%[1]s"})`,
		CPUUsage:     `1 - avg(rate(node_cpu_seconds_total{mode="idle",instance="%[1]s"}[1m]))`,
		ErrorRate:    `sum(rate(swarm_executions_total{worker="%[1]s",outcome="failure"}[5m])) / sum(rate(swarm_executions_total{worker="%[1]s"}[5m]))`,
	}
}

// Source implements port.MetricsSource on the Prometheus HTTP API
type Source struct {
	prometheusURL string
	queries       Queries
	client        *http.Client
	log           *zap.Logger
}

func NewSource(promURL string, queries Queries, log *zap.Logger) *Source {
	return &Source{
		prometheusURL: promURL,
		queries:       queries,
		client:        &http.Client{Timeout: 5 * time.Second},
		log:           log.Named("prometheus"),
	}
}

// Prometheus API response structure
type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  interface{}       `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// GetComponentMetrics runs every configured query. Series without data read as
// zero; a failing server is an error so the caller can mark the component unreachable.
func (s *Source) GetComponentMetrics(ctx context.Context, componentID string) (domain.HealthMetrics, error) {
	var m domain.HealthMetrics

	rt, err := s.optional(ctx, s.queries.ResponseTime, componentID)
	if err != nil {
		return m, err
	}
	m.ResponseTime = time.Duration(rt * float64(time.Second))

	if m.MemoryUsage, err = s.optional(ctx, s.queries.MemoryUsage, componentID); err != nil {
		return m, err
	}
	if m.CPUUsage, err = s.optional(ctx, s.queries.CPUUsage, componentID); err != nil {
		return m, err
	}
	if m.ErrorRate, err = s.optional(ctx, s.queries.ErrorRate, componentID); err != nil {
		return m, err
	}
	failures, err := s.optional(ctx, s.queries.ConsecutiveFailures, componentID)
	if err != nil {
		return m, err
	}
	m.ConsecutiveFailures = int(failures)

	m.MemoryUsage = domain.Clamp01(m.MemoryUsage)
	m.CPUUsage = domain.Clamp01(m.CPUUsage)
	m.ErrorRate = domain.Clamp01(m.ErrorRate)
	return m, nil
}

// errNoData marks an empty result vector
type errNoData struct{ query string }

func (e errNoData) Error() string { return "no data returned for query: " + e.query }

func (s *Source) optional(ctx context.Context, tmpl, componentID string) (float64, error) {
	if tmpl == "" {
		return 0, nil
	}
	query := fmt.Sprintf(tmpl, componentID)
	v, err := s.queryPrometheus(ctx, query)
	if _, empty := err.(errNoData); empty {
		s.log.Debug("no series for component", zap.String("component_id", componentID), zap.String("query", query))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil
	}
	return v, nil
}

func (s *Source) queryPrometheus(ctx context.Context, query string) (float64, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query?query=%s", s.prometheusURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("prometheus returned status %d: %s", resp.StatusCode, string(body))
	}

	var result prometheusResponse
	if err := codec.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("JSON decode failed: %w", err)
	}

	// Check for Prometheus error response
	if result.Status != "success" {
		return 0, fmt.Errorf("prometheus error: %s (%s)", result.Error, result.ErrorType)
	}

	if len(result.Data.Result) == 0 {
		return 0, errNoData{query}
	}

	return parseValue(result.Data.Result[0].Value)
}

// parseValue handles both [timestamp, "value"] pairs and bare numbers
func parseValue(value interface{}) (float64, error) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) < 2 {
			return 0, fmt.Errorf("unexpected value array length: %d", len(v))
		}
		return parseValue(v[1])
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unexpected value format: %T (%v)", value, value)
	}
}
