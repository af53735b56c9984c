// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/ledger"
)

// metrics is nil when the engine has no registerer; every method is nil-safe.
type metrics struct {
	opsApplied   *prometheus.CounterVec
	opsRejected  *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	liquidations prometheus.Counter
	bonusPaid    *prometheus.CounterVec
	socialized   *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	inAMM        *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		opsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "options_ops_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"op"}),

		opsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "options_ops_rejected_total",
			Help: "Operations reverted by the engine",
		}, []string{"op", "reason"}),

		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "options_op_duration_seconds",
			Help:    "Time to apply and commit one operation",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}, []string{"op"}),

		liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "options_liquidations_total",
			Help: "Accounts liquidated",
		}),

		bonusPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "options_liquidation_bonus_total",
			Help: "Liquidation bonus paid to liquidators, in token units",
		}, []string{"token"}),

		socialized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "options_socialized_loss_total",
			Help: "Liquidation bonus paid by the passive pool, in token units",
		}, []string{"token"}),

		utilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "options_pool_utilization_bps",
			Help: "Share of deposited collateral held in the AMM",
		}, []string{"token"}),

		inAMM: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "options_pool_in_amm",
			Help: "Collateral held in the AMM, in token units",
		}, []string{"token"}),
	}
}

var tokenLabels = [2]string{"0", "1"}

// reason maps an error to a bounded label value.
func reason(err error) string {
	for _, r := range []struct {
		err   error
		label string
	}{
		{errs.ErrInputListFail, "input_list"},
		{errs.ErrInvalidLegParameter, "invalid_leg"},
		{errs.ErrPositionAlreadyMinted, "already_minted"},
		{errs.ErrOptionsBalanceZero, "zero_balance"},
		{errs.ErrTooManyPositions, "too_many_positions"},
		{errs.ErrPriceBoundFail, "price_bound"},
		{errs.ErrEffectiveLiquidityAboveThreshold, "effective_liquidity"},
		{errs.ErrNotEnoughLiquidity, "not_enough_liquidity"},
		{errs.ErrNotMarginCalled, "not_margin_called"},
		{errs.ErrNotEnoughCollateral, "not_enough_collateral"},
		{errs.ErrNotATokenRoll, "not_a_roll"},
		{errs.ErrOptionsNotOTM, "not_otm"},
		{errs.ErrUnderOverFlow, "overflow"},
		{errs.ErrConservation, "conservation"},
		{errs.ErrReentrant, "reentrant"},
	} {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}

func amountFloat(x *uint256.Int) float64 {
	return decimal.NewFromBigInt(x.ToBig(), 0).InexactFloat64()
}

func (m *metrics) succeeded(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.opsApplied.WithLabelValues(op).Inc()
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *metrics) failed(op string, err error) {
	if m == nil {
		return
	}
	m.opsRejected.WithLabelValues(op, reason(err)).Inc()
}

func (m *metrics) observeLedger(l *ledger.Ledger) {
	if m == nil {
		return
	}
	for token := uint8(0); token < 2; token++ {
		c := l.Counters(token)
		m.utilization.WithLabelValues(tokenLabels[token]).Set(float64(c.UtilizationBps))
		m.inAMM.WithLabelValues(tokenLabels[token]).Set(amountFloat(c.InAMM))
	}
}

func (m *metrics) liquidated(ev *LiquidationEvent) {
	if m == nil {
		return
	}
	m.liquidations.Inc()
	for token := range ev.Bonus {
		m.bonusPaid.WithLabelValues(tokenLabels[token]).Add(amountFloat(ev.Bonus[token]))
		m.socialized.WithLabelValues(tokenLabels[token]).Add(amountFloat(ev.Socialized[token]))
	}
}
