package core

// Cost Metering (C9).
//
// Every kernel API call consumes cost units from the shared fee reserve
// (Track). Cost is a fixed per-call constant indexed by the API, a size
// term proportional to payload bytes, and a guest-bytecode metering term
// supplied by the interpreter. Exhaustion fails the invocation with
// CostingError.
//
// A per-API base-cost table with a logged fallback for any API missing an
// entry, keyed by kernel API rather than VM opcode, and instrumented with
// Prometheus counters since the kernel runs inside a long-lived process
// where per-API cost is worth exporting as a metric.

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Api names every kernel API call that is charged a base cost.
type Api string

const (
	ApiInvoke            Api = "invoke"
	ApiCreateNode         Api = "create_node"
	ApiDropNode           Api = "drop_node"
	ApiGlobalize          Api = "globalize"
	ApiLockSubstate       Api = "lock_substate"
	ApiDropLock           Api = "drop_lock"
	ApiReadSubstate       Api = "read_substate"
	ApiWriteSubstate      Api = "write_substate"
	ApiReadTxHash         Api = "read_tx_hash"
	ApiGenerateUUID       Api = "generate_uuid"
	ApiEmitLog            Api = "emit_log"
	ApiEmitEvent          Api = "emit_event"
	ApiReadBlob           Api = "read_blob"
	ApiGetVisibleNodeIds  Api = "get_visible_node_ids"
)

// DefaultCostUnit is charged for any API that has slipped through the
// cracks -- deliberately punitive so a missing price entry is cheap to
// notice in metrics rather than silently free.
const DefaultCostUnit uint64 = 100_000

// costTable is the canonical per-API base cost.
var costTable = map[Api]uint64{
	ApiInvoke:           10_000,
	ApiCreateNode:        3_000,
	ApiDropNode:          1_000,
	ApiGlobalize:         5_000,
	ApiLockSubstate:      1_500,
	ApiDropLock:            500,
	ApiReadSubstate:        500,
	ApiWriteSubstate:     2_000,
	ApiReadTxHash:          100,
	ApiGenerateUUID:        300,
	ApiEmitLog:             500,
	ApiEmitEvent:           800,
	ApiReadBlob:          1_000,
	ApiGetVisibleNodeIds:   200,
}

// bytesFee is the per-byte surcharge for size-sensitive APIs (payload-bearing
// calls: invoke, write_substate, emit_log/emit_event).
const bytesFee uint64 = 10

var costLogOnce sync.Map // Api -> struct{}; log the first occurrence of an unpriced API once

var costMissingCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vaultkernel",
		Subsystem: "cost",
		Name:      "unpriced_api_total",
		Help:      "Count of kernel API calls charged the default cost because no entry exists in costTable.",
	},
	[]string{"api"},
)

func init() {
	prometheus.MustRegister(costMissingCounter)
}

// BaseCost returns the base cost for api, logging (and counting) the first
// occurrence of an unpriced API to avoid log/metric spam.
func BaseCost(api Api) uint64 {
	if c, ok := costTable[api]; ok {
		return c
	}
	if _, loaded := costLogOnce.LoadOrStore(api, struct{}{}); !loaded {
		log.WithField("api", api).Warn("cost: missing price for api - charging default")
		costMissingCounter.WithLabelValues(string(api)).Inc()
	}
	return DefaultCostUnit
}

// SizeCost returns the size-proportional surcharge for a payload of n
// bytes.
func SizeCost(n int) uint64 { return uint64(n) * bytesFee }

// CostMeter wraps a Track's fee reserve with Prometheus gauges tracking
// reserve/consumed for observability, and an optional per-package royalty
// accrual hook.
type CostMeter struct {
	track *Track

	reserveGauge  prometheus.Gauge
	consumedGauge prometheus.Gauge

	royalties map[nodeIdKey]uint64
}

var meterRegisterOnce sync.Once
var reserveGaugeShared, consumedGaugeShared prometheus.Gauge

func sharedCostGauges() (prometheus.Gauge, prometheus.Gauge) {
	meterRegisterOnce.Do(func() {
		reserveGaugeShared = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vaultkernel", Subsystem: "cost", Name: "fee_reserve",
			Help: "Current fee reserve balance for the in-flight transaction.",
		})
		consumedGaugeShared = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vaultkernel", Subsystem: "cost", Name: "fee_consumed",
			Help: "Cost units consumed so far by the in-flight transaction.",
		})
		prometheus.MustRegister(reserveGaugeShared, consumedGaugeShared)
	})
	return reserveGaugeShared, consumedGaugeShared
}

func NewCostMeter(track *Track) *CostMeter {
	reserve, consumed := sharedCostGauges()
	return &CostMeter{track: track, reserveGauge: reserve, consumedGauge: consumed, royalties: make(map[nodeIdKey]uint64)}
}

// Charge consumes base + size-proportional cost for api against the fee
// reserve.
func (c *CostMeter) Charge(api Api, payloadBytes int) error {
	cost := BaseCost(api) + SizeCost(payloadBytes)
	if err := c.track.ConsumeCost(cost); err != nil {
		return err
	}
	c.reserveGauge.Set(float64(c.track.FeeReserved()))
	c.consumedGauge.Set(float64(c.track.FeeConsumed()))
	return nil
}

// ChargeGuest consumes a guest-bytecode metering term supplied by the
// interpreter.
func (c *CostMeter) ChargeGuest(units uint64) error {
	if err := c.track.ConsumeCost(units); err != nil {
		return err
	}
	c.consumedGauge.Set(float64(c.track.FeeConsumed()))
	return nil
}

// ChargeRoyalty accrues a royalty payment for pkg from the fee reserve.
// Nothing in the kernel calls it: Invoke charges no royalty, and packages
// carry no royalty rate.
func (c *CostMeter) ChargeRoyalty(pkg NodeId, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := c.track.ConsumeCost(amount); err != nil {
		return err
	}
	c.royalties[pkg.Key()] += amount
	c.consumedGauge.Set(float64(c.track.FeeConsumed()))
	return nil
}

// AccruedRoyalties returns the per-package royalty accrual for this
// transaction.
func (c *CostMeter) AccruedRoyalties() map[nodeIdKey]uint64 { return c.royalties }
