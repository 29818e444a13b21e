package model

import "time"

// Topic identifiers. Each topic can be independently subscribed to on the
// stream and independently patched by a delta message.
const (
	TopicHeatmap = "heatmap"
	TopicIndices = "indices"
	TopicSectors = "sectors"
	TopicMovers  = "movers"
	TopicPulse   = "pulse"
)

// AllTopics returns every known topic identifier.
func AllTopics() []string {
	return []string{TopicHeatmap, TopicIndices, TopicSectors, TopicMovers, TopicPulse}
}

// HeatmapCell is one tile in the market heatmap.
type HeatmapCell struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Sector        string  `json:"sector"`
	MarketCap     float64 `json:"marketCap"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
}

// IndexQuote is the latest quote for a major index.
type IndexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// SectorPerformance summarizes one sector for the current period.
type SectorPerformance struct {
	Name          string   `json:"name"`
	ChangePercent float64  `json:"changePercent"`
	Leaders       []string `json:"leaders,omitempty"`
}

// Mover is a single entry in the gainers/losers lists.
type Mover struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
}

// TopMovers holds the biggest gainers and losers for the period.
type TopMovers struct {
	Gainers []Mover `json:"gainers"`
	Losers  []Mover `json:"losers"`
}

// MarketPulse is the breadth/sentiment summary shown in the dashboard header.
type MarketPulse struct {
	AdvanceDeclineRatio float64 `json:"advanceDeclineRatio"`
	NewHighs            int     `json:"newHighs"`
	NewLows             int     `json:"newLows"`
	TotalVolume         int64   `json:"totalVolume"`
	Sentiment           string  `json:"sentiment"`
}

// DashboardData carries all topic fields. It is the payload shape shared by
// REST snapshots and full-replace stream messages (initial_data, market_update).
type DashboardData struct {
	Heatmap   []HeatmapCell       `json:"heatmap"`
	Indices   []IndexQuote        `json:"indices"`
	Sectors   []SectorPerformance `json:"sectors"`
	TopMovers TopMovers           `json:"topMovers"`
	Pulse     *MarketPulse        `json:"pulse"`
}

// DashboardState is the merged, consumer-visible market state. The Data Merge
// Coordinator owns it; everything else holds a read-only pointer that changes
// by replacement, never in place.
type DashboardState struct {
	Heatmap    []HeatmapCell       `json:"heatmap"`
	Indices    []IndexQuote        `json:"indices"`
	Sectors    []SectorPerformance `json:"sectors"`
	TopMovers  TopMovers           `json:"topMovers"`
	Pulse      *MarketPulse        `json:"pulse"`
	LastUpdate time.Time           `json:"lastUpdate"`
}

// SnapshotMetadata describes where and when a snapshot was produced.
type SnapshotMetadata struct {
	Period      string    `json:"period"`
	GeneratedAt time.Time `json:"generatedAt"`
	Source      string    `json:"source,omitempty"`
}

// DashboardPayload is the envelope returned by GET /api/dashboard/market.
type DashboardPayload struct {
	Success  bool             `json:"success"`
	Data     DashboardData    `json:"data"`
	Metadata SnapshotMetadata `json:"metadata"`
}
