package merge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marketintel/dashboard-sync/internal/connection"
	"github.com/marketintel/dashboard-sync/internal/metrics"
	"github.com/marketintel/dashboard-sync/internal/model"
)

// Merge source labels for instrumentation.
const (
	sourceSnapshot = "snapshot"
	sourceStream   = "stream"
)

// Coordinator combines periodic snapshots with live stream updates into one
// authoritative DashboardState.
type Coordinator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	state *model.DashboardState
	subs  []chan *model.DashboardState
}

// New creates a Coordinator with no state; stream messages are ignored until
// the first snapshot arrives.
func New(m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:  logger,
		metrics: m,
	}
}

// ApplySnapshot replaces the entire state with a freshly fetched snapshot.
// Snapshots always win wholesale: they reflect a newly chosen reporting
// period, so stream patches applied since the previous snapshot are discarded.
func (c *Coordinator) ApplySnapshot(data model.DashboardData, fetchedAt time.Time) {
	next := &model.DashboardState{
		Heatmap:    data.Heatmap,
		Indices:    data.Indices,
		Sectors:    data.Sectors,
		TopMovers:  data.TopMovers,
		Pulse:      data.Pulse,
		LastUpdate: fetchedAt,
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	c.metrics.RecordMergeApply(sourceSnapshot)
	c.logger.Debug("snapshot applied",
		"heatmap", len(next.Heatmap),
		"indices", len(next.Indices),
		"sectors", len(next.Sectors),
	)
	c.notify(next)
}

// ApplyStream shallow-merges a stream message into the current state: a
// full-replace message overwrites every topic field, a delta overwrites only
// its named topic. No-op before the first snapshot.
func (c *Coordinator) ApplyStream(msg connection.StreamMessage) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		c.logger.Debug("stream message before first snapshot, skipping", "type", msg.Type)
		return nil
	}

	next := *c.state // copy; untouched topics keep their last known value
	if err := applyMessage(&next, msg); err != nil {
		c.mu.Unlock()
		return err
	}
	next.LastUpdate = msg.ReceivedAt

	c.state = &next
	c.mu.Unlock()

	c.metrics.RecordMergeApply(sourceStream)
	c.notify(&next)
	return nil
}

// State returns the current merged state, or nil before the first snapshot.
func (c *Coordinator) State() *model.DashboardState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Updates returns a latest-wins channel of state replacements.
func (c *Coordinator) Updates() <-chan *model.DashboardState {
	ch := make(chan *model.DashboardState, 1)

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	current := c.state
	c.mu.Unlock()

	if current != nil {
		ch <- current
	}
	return ch
}

// notify pushes the new state to every subscriber, displacing any stale
// unconsumed value so slow consumers only ever see the latest.
func (c *Coordinator) notify(state *model.DashboardState) {
	c.mu.RLock()
	subs := c.subs
	c.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// applyMessage decodes a stream message into the named topic field(s).
// Every case decodes into a fresh value and assigns it: decoding into the
// existing fields would write through the slice backing arrays shared with
// previously published states.
func applyMessage(state *model.DashboardState, msg connection.StreamMessage) error {
	switch msg.Type {
	case connection.TypeInitialData, connection.TypeMarketUpdate:
		var data model.DashboardData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		state.Heatmap = data.Heatmap
		state.Indices = data.Indices
		state.Sectors = data.Sectors
		state.TopMovers = data.TopMovers
		state.Pulse = data.Pulse

	case connection.TypeHeatmapDelta:
		var heatmap []model.HeatmapCell
		if err := json.Unmarshal(msg.Data, &heatmap); err != nil {
			return fmt.Errorf("decode heatmap delta: %w", err)
		}
		state.Heatmap = heatmap

	case connection.TypeIndicesDelta:
		var indices []model.IndexQuote
		if err := json.Unmarshal(msg.Data, &indices); err != nil {
			return fmt.Errorf("decode indices delta: %w", err)
		}
		state.Indices = indices

	case connection.TypeSectorsDelta:
		var sectors []model.SectorPerformance
		if err := json.Unmarshal(msg.Data, &sectors); err != nil {
			return fmt.Errorf("decode sectors delta: %w", err)
		}
		state.Sectors = sectors

	case connection.TypeMoversDelta:
		var movers model.TopMovers
		if err := json.Unmarshal(msg.Data, &movers); err != nil {
			return fmt.Errorf("decode movers delta: %w", err)
		}
		state.TopMovers = movers

	case connection.TypePulseDelta:
		var pulse model.MarketPulse
		if err := json.Unmarshal(msg.Data, &pulse); err != nil {
			return fmt.Errorf("decode pulse delta: %w", err)
		}
		state.Pulse = &pulse

	default:
		return fmt.Errorf("unknown stream message type %q", msg.Type)
	}

	return nil
}
