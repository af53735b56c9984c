// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine runs the options core transactions: deposit, withdraw, mint,
// burn, roll and liquidate, plus read-only valuation. Every mutating call is
// atomic: it either commits all of its state changes or none.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parsdao/options/amm"
	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/config"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/ledger"
	"github.com/parsdao/options/state"
	"github.com/parsdao/options/tokenid"
	"github.com/parsdao/options/vault"
)

// System accounts. All of them sit in markets.SystemRange.
var (
	LedgerAddress      = common.HexToAddress("0x0000000000000000000000000000000000009100")
	VaultAddress       = common.HexToAddress("0x0000000000000000000000000000000000009101")
	PassivePoolAddress = common.HexToAddress("0x0000000000000000000000000000000000009102")
	accountsAddress    = common.HexToAddress("0x0000000000000000000000000000000000009103")
)

// Vault is the collateral store the engine settles through.
type Vault interface {
	vault.Vault
	Total(token uint8) *uint256.Int
	Transfer(from, to common.Address, token uint8, amount *uint256.Int) error
}

// Engine is the options core for one market.
type Engine struct {
	// mu protects locked and history
	mu sync.Mutex

	// locked prevents reentrancy and overlapping operations
	locked bool

	store  *state.Store
	amm    amm.AMM
	vault  Vault
	ledger *ledger.Ledger

	calc  *collateral.Calculator
	bonus collateral.BonusPolicy
	cache *tokenid.Cache
	cfg   *config.Config

	log     log.Logger
	metrics *metrics
	reg     prometheus.Registerer

	// history of liquidations, oldest first
	history []*LiquidationEvent
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is log.Root().
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRegisterer registers engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithBonusPolicy replaces the default capped bonus.
func WithBonusPolicy(p collateral.BonusPolicy) Option {
	return func(e *Engine) { e.bonus = p }
}

// New creates an engine over store. pool and v must keep their state in the
// same store so that a reverted operation reverts them too.
func New(store *state.Store, pool amm.AMM, v Vault, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	calc, err := collateral.NewCalculator(cfg.Collateral)
	if err != nil {
		return nil, err
	}
	cache, err := tokenid.NewCache(cfg.DecodeCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:  store,
		amm:    pool,
		vault:  v,
		ledger: ledger.New(store, LedgerAddress),
		calc:   calc,
		bonus:  collateral.CappedBonus{MaxBonusBps: cfg.MaxBonusBps},
		cache:  cache,
		cfg:    cfg,
		log:    log.Root(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg != nil {
		e.metrics = newMetrics(e.reg)
	}
	return e, nil
}

// Ref returns the pool reference of the engine's market.
func (e *Engine) Ref() tokenid.PoolRef { return e.amm.Ref() }

// PassivePool returns the vault account of passive liquidity providers.
func (e *Engine) PassivePool() common.Address { return PassivePoolAddress }

// =========================================================================
// Transactions
// =========================================================================

// enter claims the engine for one operation.
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return errs.ErrReentrant
	}
	e.locked = true
	return nil
}

func (e *Engine) exit() {
	e.mu.Lock()
	e.locked = false
	e.mu.Unlock()
}

// atomic runs fn as one transaction. On any error every write fn made is
// reverted; on success the store is committed.
func (e *Engine) atomic(op string, fn func() error) error {
	if err := e.enter(); err != nil {
		e.metrics.failed(op, err)
		return err
	}
	defer e.exit()

	start := time.Now()
	snap := e.store.Snapshot()
	err := fn()
	if err == nil {
		err = e.checkConservation()
	}
	if err == nil {
		err = e.store.Error()
	}
	if err != nil {
		if rerr := e.store.RevertToSnapshot(snap); rerr != nil {
			e.log.Error("revert failed", "op", op, "err", rerr)
			e.store.Discard()
		}
		e.metrics.failed(op, err)
		e.log.Debug("operation reverted", "op", op, "err", err)
		return err
	}
	if err := e.store.Commit(); err != nil {
		e.store.Discard()
		e.metrics.failed(op, err)
		return fmt.Errorf("commit %s: %w", op, err)
	}
	e.metrics.succeeded(op, time.Since(start))
	e.metrics.observeLedger(e.ledger)
	return nil
}

// view runs a read-only fn under the engine guard.
func (e *Engine) view(fn func() error) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return fn()
}

// checkConservation verifies that the vault holds exactly what the ledger
// accounts for.
func (e *Engine) checkConservation() error {
	for token := uint8(0); token < 2; token++ {
		c := e.ledger.Counters(token)
		if !c.Total.Eq(c.Deposited) {
			return fmt.Errorf("%w: token %d total %s deposited %s",
				errs.ErrConservation, token, c.Total.Dec(), c.Deposited.Dec())
		}
		if vt := e.vault.Total(token); !vt.Eq(c.Total) {
			return fmt.Errorf("%w: token %d vault %s ledger %s",
				errs.ErrConservation, token, vt.Dec(), c.Total.Dec())
		}
	}
	return nil
}

// =========================================================================
// Deposits
// =========================================================================

// Deposit credits amount of token to account.
func (e *Engine) Deposit(account common.Address, token uint8, amount *uint256.Int) error {
	return e.atomic("deposit", func() error {
		if amount.IsZero() {
			return fmt.Errorf("%w: zero deposit", errs.ErrOptionsBalanceZero)
		}
		if err := e.vault.Credit(account, token, amount); err != nil {
			return err
		}
		if err := e.ledger.Deposit(token, amount); err != nil {
			return err
		}
		e.log.Debug("deposit", "account", account, "token", token, "amount", amount.Dec())
		return nil
	})
}

// Withdraw debits amount of token from account. positionList must be the
// account's current list; the account must stay solvent afterwards.
func (e *Engine) Withdraw(account common.Address, token uint8, amount *uint256.Int, positionList []tokenid.ID) error {
	return e.atomic("withdraw", func() error {
		if err := e.verifyList(account, positionList); err != nil {
			return err
		}
		if err := e.vault.Debit(account, token, amount); err != nil {
			if errors.Is(err, vault.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %w", errs.ErrNotEnoughCollateral, err)
			}
			return err
		}
		if err := e.ledger.Withdraw(token, amount); err != nil {
			return err
		}
		if err := e.requireSolvent(account, positionList, e.amm.CurrentTick()); err != nil {
			return err
		}
		e.log.Debug("withdraw", "account", account, "token", token, "amount", amount.Dec())
		return nil
	})
}

// =========================================================================
// Queries
// =========================================================================

// Positions returns the account's stored position list.
func (e *Engine) Positions(account common.Address) ([]tokenid.ID, error) {
	var ids []tokenid.ID
	err := e.view(func() error {
		ids = e.storedList(account)
		return nil
	})
	return ids, err
}

// PositionBalance returns the stored balance of id for account. A position
// that is not held has a zero size.
func (e *Engine) PositionBalance(account common.Address, id tokenid.ID) (Balance, error) {
	var b Balance
	err := e.view(func() error {
		b = e.balanceOf(account, id)
		return nil
	})
	return b, err
}

// Collateral returns the account's vault balances.
func (e *Engine) Collateral(account common.Address) ([2]*uint256.Int, error) {
	var out [2]*uint256.Int
	err := e.view(func() error {
		out = e.balances(account)
		return nil
	})
	return out, err
}

// LedgerSnapshot returns the counters of both tokens.
func (e *Engine) LedgerSnapshot() ([2]ledger.Counters, error) {
	var out [2]ledger.Counters
	err := e.view(func() error {
		out = [2]ledger.Counters{e.ledger.Counters(0), e.ledger.Counters(1)}
		return nil
	})
	return out, err
}

// LiquidationHistory returns recorded liquidations, oldest first.
func (e *Engine) LiquidationHistory() []*LiquidationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*LiquidationEvent, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) balances(account common.Address) [2]*uint256.Int {
	return [2]*uint256.Int{e.vault.BalanceOf(account, 0), e.vault.BalanceOf(account, 1)}
}
