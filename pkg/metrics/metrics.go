// Package metrics keeps in-process counters for the API and serves them as
// JSON and as Prometheus text exposition.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu             sync.RWMutex
	endpoint       map[string]*EndpointStat
	authOutcome    map[string]int64
	purchaseStatus map[string]int64
	gauges         map[string]float64
	tokensIssued   int64
	cacheHits      int64
	cacheMisses    int64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt    string                  `json:"generated_at"`
	Endpoints      map[string]EndpointStat `json:"endpoints"`
	AuthOutcomes   map[string]int64        `json:"auth_outcomes"`
	PurchaseStatus map[string]int64        `json:"purchase_status_totals"`
	Gauges         map[string]float64      `json:"gauges"`
	TokensIssued   int64                   `json:"tokens_issued_total"`
	CacheHits      int64                   `json:"cache_hits_total"`
	CacheMisses    int64                   `json:"cache_misses_total"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:       map[string]*EndpointStat{},
		authOutcome:    map[string]int64{},
		purchaseStatus: map[string]int64{},
		gauges:         map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncAuthOutcome records guard decisions: granted, unauthorized, forbidden.
func (r *Registry) IncAuthOutcome(outcome string) {
	outcome = strings.TrimSpace(strings.ToLower(outcome))
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.authOutcome[outcome]++
	r.mu.Unlock()
}

func (r *Registry) IncPurchaseStatus(status string) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return
	}
	r.mu.Lock()
	r.purchaseStatus[status]++
	r.mu.Unlock()
}

func (r *Registry) IncTokensIssued() {
	r.mu.Lock()
	r.tokensIssued++
	r.mu.Unlock()
}

func (r *Registry) IncCacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

func (r *Registry) IncCacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Endpoints:      make(map[string]EndpointStat, len(r.endpoint)),
		AuthOutcomes:   make(map[string]int64, len(r.authOutcome)),
		PurchaseStatus: make(map[string]int64, len(r.purchaseStatus)),
		Gauges:         make(map[string]float64, len(r.gauges)),
		TokensIssued:   r.tokensIssued,
		CacheHits:      r.cacheHits,
		CacheMisses:    r.cacheMisses,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.authOutcome {
		out.AuthOutcomes[k] = v
	}
	for k, v := range r.purchaseStatus {
		out.PurchaseStatus[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP servicehub_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE servicehub_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "servicehub_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP servicehub_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE servicehub_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "servicehub_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP servicehub_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE servicehub_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "servicehub_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP servicehub_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE servicehub_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "servicehub_endpoint_max_millis{endpoint=%q} %d\n", ep, snap.Endpoints[ep].MaxMillis)
		}
		b.WriteString("# HELP servicehub_auth_total guard decisions by outcome\n")
		b.WriteString("# TYPE servicehub_auth_total counter\n")
		for _, outcome := range SortedKeys(snap.AuthOutcomes) {
			fmt.Fprintf(b, "servicehub_auth_total{outcome=%q} %d\n", outcome, snap.AuthOutcomes[outcome])
		}
		b.WriteString("# HELP servicehub_purchase_status_total purchase transitions by resulting status\n")
		b.WriteString("# TYPE servicehub_purchase_status_total counter\n")
		for _, status := range SortedKeys(snap.PurchaseStatus) {
			fmt.Fprintf(b, "servicehub_purchase_status_total{status=%q} %d\n", status, snap.PurchaseStatus[status])
		}
		b.WriteString("# HELP servicehub_gauge operational gauge metrics\n")
		b.WriteString("# TYPE servicehub_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "servicehub_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP servicehub_tokens_issued_total session tokens issued\n")
		b.WriteString("# TYPE servicehub_tokens_issued_total counter\n")
		fmt.Fprintf(b, "servicehub_tokens_issued_total %d\n", snap.TokensIssued)
		b.WriteString("# HELP servicehub_cache_hits_total listing cache hits\n")
		b.WriteString("# TYPE servicehub_cache_hits_total counter\n")
		fmt.Fprintf(b, "servicehub_cache_hits_total %d\n", snap.CacheHits)
		b.WriteString("# HELP servicehub_cache_misses_total listing cache misses\n")
		b.WriteString("# TYPE servicehub_cache_misses_total counter\n")
		fmt.Fprintf(b, "servicehub_cache_misses_total %d\n", snap.CacheMisses)

		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
