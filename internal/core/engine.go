package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"CDPLedger/internal/event"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/state"
)

var (
	ErrMissingIdempotencyKey = errors.New("command missing idempotency key")
	ErrEngineStopped         = errors.New("engine stopped")
)

// CoreOutput is one event log entry on its way out of the engine, consumed by
// the persistence worker and the outbound publisher.
type CoreOutput struct {
	Envelope *event.EventEnvelope
}

// CommandResult reports the outcome of one submitted command.
type CommandResult struct {
	// Sequence of the last event the command produced, -1 when none.
	Sequence  int64
	Duplicate bool
	Err       error
}

type submission struct {
	cmd   Command
	reply chan CommandResult
}

type inspection struct {
	fn   func(*state.PositionLedger)
	done chan struct{}
}

// Engine is the single-threaded command processor. All ledger mutations and
// reads run on its loop goroutine, which makes the event log a total order
// and keeps the domain state free of locks.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	ledger      *state.PositionLedger
	idempotency *IdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
	clock   func() time.Time

	submissions chan submission
	inspections chan inspection

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

type EngineConfig struct {
	StartSequence int64
	Ledger        *state.PositionLedger
	DBChecker     DBIdempotencyChecker
	// LRUCapacity bounds the hot idempotency tier; zero means 1M entries.
	LRUCapacity int
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	Clock       func() time.Time

	PersistChan chan<- CoreOutput
	PublishChan chan<- CoreOutput
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		sequence:    cfg.StartSequence,
		hasher:      NewStateHasher(),
		ledger:      cfg.Ledger,
		idempotency: NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		submissions: make(chan submission, 256),
		inspections: make(chan inspection, 64),
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Run drives the engine loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Int64("start_sequence", e.sequence).Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Int64("sequence", e.sequence).Msg("engine loop stopped")
			return
		case sub := <-e.submissions:
			sub.reply <- e.process(sub.cmd)
		case ins := <-e.inspections:
			ins.fn(e.ledger)
			close(ins.done)
		}
	}
}

// Submit hands a command to the loop and waits for its result.
func (e *Engine) Submit(ctx context.Context, cmd Command) CommandResult {
	sub := submission{cmd: cmd, reply: make(chan CommandResult, 1)}
	select {
	case e.submissions <- sub:
	case <-ctx.Done():
		return CommandResult{Sequence: -1, Err: ErrEngineStopped}
	}
	select {
	case res := <-sub.reply:
		return res
	case <-ctx.Done():
		return CommandResult{Sequence: -1, Err: ErrEngineStopped}
	}
}

// Inspect runs fn on the loop goroutine with exclusive access to the ledger.
// fn must not retain the ledger pointer past its return.
func (e *Engine) Inspect(ctx context.Context, fn func(*state.PositionLedger)) error {
	ins := inspection{fn: fn, done: make(chan struct{})}
	select {
	case e.inspections <- ins:
	case <-ctx.Done():
		return ErrEngineStopped
	}
	select {
	case <-ins.done:
		return nil
	case <-ctx.Done():
		return ErrEngineStopped
	}
}

func (e *Engine) process(cmd Command) CommandResult {
	start := time.Now()
	kind := cmd.Kind()
	key := cmd.Key()

	if key == "" {
		return CommandResult{Sequence: -1, Err: ErrMissingIdempotencyKey}
	}
	if e.idempotency.IsDuplicate(kind, key) {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return CommandResult{Sequence: -1, Duplicate: true}
	}

	err := e.dispatch(cmd)
	timestamp := e.clock()
	events := e.ledger.DrainEvents()
	if err != nil {
		// A rejected command must leave no trace in the log. The only
		// mutation that can precede a rejection is the base rate decay
		// write-back, which any replica recomputes identically from time.
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(kind, "error").Inc()
		}
		return CommandResult{Sequence: -1, Err: err}
	}

	lastSeq := int64(-1)
	for _, ev := range events {
		payload, merr := json.Marshal(ev)
		if merr != nil {
			panic(fmt.Sprintf("core: marshal %s payload: %v", ev.EventType(), merr))
		}

		prev := e.hasher.Tip()
		hash := e.hasher.Compute(e.sequence, e.stateDigest(payload))

		out := CoreOutput{Envelope: &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: key,
			CommandKind:    kind,
			EventType:      ev.EventType(),
			Timestamp:      timestamp,
			Payload:        payload,
			StateHash:      hash,
			PrevHash:       prev,
		}}

		// Persistence is a blocking send: the loop stalls rather than lose
		// an event. Publishing drops on a full buffer; subscribers recover
		// from the log.
		e.persistChan <- out
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDropped.Inc()
			}
		}

		if e.metrics != nil {
			e.metrics.CoreEventsEmitted.WithLabelValues(ev.EventType().String()).Inc()
		}
		lastSeq = e.sequence
		e.sequence++
	}

	e.idempotency.MarkProcessed(kind, key)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(kind).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
	return CommandResult{Sequence: lastSeq}
}

func (e *Engine) dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case *FundCollateral:
		return e.ledger.FundCollateral(c.Holder, c.Amount)
	case *OpenPosition:
		return e.ledger.OpenPosition(c.Caller, c.Owner, c.Collateral, c.Debt, c.HintPrev, c.HintNext)
	case *AdjustPosition:
		return e.ledger.AdjustPosition(c.Caller, c.Owner, c.CollateralDeposit, c.CollateralWithdraw, c.DebtChange, c.IsDebtIncrease, c.HintPrev, c.HintNext)
	case *ClosePosition:
		return e.ledger.ClosePosition(c.Caller, c.Owner)
	case *Liquidate:
		return e.ledger.Liquidate(c.Liquidator, c.Owner)
	case *BatchLiquidate:
		return e.ledger.BatchLiquidate(c.Liquidator, c.Owners)
	case *RedeemCollateral:
		return e.ledger.RedeemCollateral(c.Redeemer, c.Amount, c.FirstHint, c.PartialHintPrev, c.PartialHintNext, c.PartialNICR, c.MaxIterations, c.MaxFeePercentage)
	case *WhitelistDelegate:
		return e.ledger.WhitelistDelegate(c.Owner, c.Delegate, c.Whitelisted)
	case *SetGlobalDelegate:
		return e.ledger.SetGlobalDelegate(c.Delegate, c.Whitelisted)
	case *SetBorrowingSpread:
		return e.ledger.SetBorrowingSpread(c.Spread)
	case *SetLiquidationProtocolFee:
		return e.ledger.SetLiquidationProtocolFee(c.Fee)
	default:
		return fmt.Errorf("unknown command type %T", cmd)
	}
}

// stateDigest canonicalizes the post-command global figures plus the event
// payload. Two replicas that diverge in any aggregate produce different
// chains immediately.
func (e *Engine) stateDigest(payload []byte) []byte {
	dist := e.ledger.Distribution()

	digest := make([]byte, 0, 6*32+len(payload))
	for _, v := range [...][32]byte{
		e.ledger.SystemCollateral().Bytes32(),
		e.ledger.SystemDebt().Bytes32(),
		dist.TotalStakes.Bytes32(),
		dist.LCollateral.Bytes32(),
		dist.LDebt.Bytes32(),
		e.ledger.Fees().BaseRate().Bytes32(),
	} {
		digest = append(digest, v[:]...)
	}
	return append(digest, payload...)
}

// RestoreChain positions the sequence counter and hash chain after loading a
// snapshot, before any command is accepted.
func (e *Engine) RestoreChain(nextSequence int64, tip [32]byte) {
	e.sequence = nextSequence
	e.hasher.SetTip(tip)
}

// WarmIdempotency preloads recent composite keys into the hot tier.
func (e *Engine) WarmIdempotency(keys []string) {
	e.idempotency.Warm(keys)
}

func (e *Engine) Sequence() int64 {
	return e.sequence
}

func (e *Engine) StateHash() [32]byte {
	return e.hasher.Tip()
}
