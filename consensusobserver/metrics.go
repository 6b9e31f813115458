package consensusobserver

import "github.com/ethereum/go-ethereum/metrics"

// Metrics is the process-wide counter/gauge collaborator noted in spec §9
// ("Global-ish state... treat as a collaborator with pure increment/set
// operations"), backed by the real go-ethereum metrics registry.
type Metrics struct {
	subscriptionTerminated map[Kind]metrics.Counter
	pendingBlocksDepth     metrics.Gauge
	payloadStoreSize       metrics.Gauge
	syncMode               metrics.Gauge
	blocksFinalized        metrics.Counter
	registry               metrics.Registry
}

// NewMetrics registers the observer's counters and gauges against r. Pass
// metrics.DefaultRegistry to participate in the process-wide registry the
// way every other go-ethereum subsystem does.
func NewMetrics(r metrics.Registry) *Metrics {
	m := &Metrics{
		subscriptionTerminated: make(map[Kind]metrics.Counter),
		pendingBlocksDepth:     metrics.NewRegisteredGauge("consensusobserver/pending_blocks", r),
		payloadStoreSize:       metrics.NewRegisteredGauge("consensusobserver/payload_store_size", r),
		syncMode:               metrics.NewRegisteredGauge("consensusobserver/sync_mode", r),
		blocksFinalized:        metrics.NewRegisteredCounter("consensusobserver/blocks_finalized", r),
		registry:               r,
	}
	for _, k := range []Kind{
		KindSubscriptionDisconnected, KindSubscriptionTimeout,
		KindSubscriptionProgressStopped, KindSubscriptionSuboptimal,
	} {
		m.subscriptionTerminated[k] = metrics.NewRegisteredCounter("consensusobserver/subscription_terminated/"+string(k), r)
	}
	return m
}

func (m *Metrics) IncSubscriptionTerminated(k Kind) {
	if c, ok := m.subscriptionTerminated[k]; ok {
		c.Inc(1)
	}
}

func (m *Metrics) SetPendingBlocksDepth(n int) { m.pendingBlocksDepth.Update(int64(n)) }
func (m *Metrics) SetPayloadStoreSize(n int)   { m.payloadStoreSize.Update(int64(n)) }
func (m *Metrics) SetSyncMode(active bool) {
	if active {
		m.syncMode.Update(1)
	} else {
		m.syncMode.Update(0)
	}
}
func (m *Metrics) IncBlocksFinalized(n int) { m.blocksFinalized.Inc(int64(n)) }
