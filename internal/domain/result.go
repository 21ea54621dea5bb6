package domain

// ResultStatus marks whether a tick produced cost estimates.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// MakerTakerSplit holds execution role proportions; they sum to 1.
type MakerTakerSplit struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// PerformanceStats is the running latency block attached to every result.
type PerformanceStats struct {
	TickCount           uint64  `json:"tick_count"`
	BookUpdateMs        float64 `json:"book_update_ms"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	MinLatencyMs        float64 `json:"min_latency_ms"`
	MaxLatencyMs        float64 `json:"max_latency_ms"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	P99LatencyMs        float64 `json:"p99_latency_ms"`
	WindowSize          int     `json:"window_size"`
	TimeSinceLastTickMs float64 `json:"time_since_last_tick_ms"`
	TicksPerSecond      float64 `json:"ticks_per_second"`
}

// TickResult is emitted once per processed snapshot. It is created fresh per
// tick and owned by the receiver after emission.
type TickResult struct {
	SimulationID string       `json:"simulation_id"`
	Timestamp    string       `json:"timestamp"`
	Status       ResultStatus `json:"status"`
	Error        string       `json:"error,omitempty"`

	ExpectedSlippageUSD     float64         `json:"expected_slippage_usd"`
	ExpectedFeesUSD         float64         `json:"expected_fees_usd"`
	ExpectedMarketImpactUSD float64         `json:"expected_market_impact_usd"`
	NetCostUSD              float64         `json:"net_cost_usd"`
	MakerTaker              MakerTakerSplit `json:"maker_taker_split"`

	// Book-walk estimate for the configured notional. Informational only.
	ExpectedAvgPrice float64 `json:"expected_avg_price"`
	PartialFill      bool    `json:"partial_fill"`

	InsufficientData bool              `json:"insufficient_data"`
	ModelErrors      map[string]string `json:"model_errors,omitempty"`

	InternalLatencyMs float64          `json:"internal_latency_ms"`
	Performance       PerformanceStats `json:"running_performance_stats"`
}

// OK reports whether the tick completed without a pipeline-level error.
func (r TickResult) OK() bool {
	return r.Status == ResultOK
}
