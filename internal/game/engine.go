package game

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"rocket/internal/ledger"
)

// Config carries the round timings and growth curve. Production uses
// DefaultConfig; tests shrink the intervals.
type Config struct {
	BettingSeconds    int
	CountdownInterval time.Duration
	TickInterval      time.Duration
	CrashPause        time.Duration
	GrowthRate        float64
	LedgerTimeout     time.Duration
	ActionTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BettingSeconds:    10,
		CountdownInterval: time.Second,
		TickInterval:      100 * time.Millisecond,
		CrashPause:        3 * time.Second,
		GrowthRate:        0.12,
		LedgerTimeout:     5 * time.Second,
		ActionTimeout:     5 * time.Second,
	}
}

// Broadcaster pushes a message to every connected session. *Hub is the
// production implementation.
type Broadcaster interface {
	Broadcast(message interface{})
}

// RoundArchive persists finished rounds for the history endpoint.
type RoundArchive interface {
	RecordRound(ctx context.Context, roundID int64, crashAt float64, snapshot interface{}) error
}

// BetRequest is an inbound bet action.
type BetRequest struct {
	PlayerID    string
	DisplayName string
	Amount      float64
}

type BetResult struct {
	Balance float64
}

type CashoutResult struct {
	Multiplier float64
	WinAmount  float64
	Balance    float64
}

type betReply struct {
	result BetResult
	err    error
}

type cashoutReply struct {
	result CashoutResult
	err    error
}

type betRequest struct {
	BetRequest
	resp chan betReply
}

type cashoutRequest struct {
	playerID string
	resp     chan cashoutReply
}

type settlementKind int

const (
	settleBet settlementKind = iota
	settleCashout
)

// settlement is the completion of an async ledger call, routed back
// into the run loop so state finalization stays single-writer.
type settlement struct {
	kind     settlementKind
	roundID  int64
	playerID string
	amount   float64
	balance  float64
	err      error

	multiplier float64
	winAmount  float64

	betResp     chan betReply
	cashoutResp chan cashoutReply
}

// Engine owns the authoritative round and drives the betting -> flying
// -> crashed cycle. All round mutations happen on the run goroutine;
// inbound actions and ledger completions arrive as mailbox messages.
// The RWMutex exists only so outside readers can snapshot the round.
type Engine struct {
	hub     Broadcaster
	ledger  ledger.Gateway
	archive RoundArchive
	cfg     Config

	// crashPoint is split out from the generator so tests can pin the
	// round's target.
	crashPoint func() float64

	stateMutex  sync.RWMutex
	round       *Round
	nextRoundID int64

	betCh     chan betRequest
	cashoutCh chan cashoutRequest
	settleCh  chan settlement
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewEngine wires the engine. archive may be nil when redis is absent.
func NewEngine(hub Broadcaster, gw ledger.Gateway, archive RoundArchive, gen *CrashPointGenerator, cfg Config) *Engine {
	return &Engine{
		hub:        hub,
		ledger:     gw,
		archive:    archive,
		cfg:        cfg,
		crashPoint: gen.Generate,
		betCh:      make(chan betRequest, 256),
		cashoutCh:  make(chan cashoutRequest, 256),
		settleCh:   make(chan settlement, 256),
		stopCh:     make(chan struct{}),
	}
}

func (e *Engine) Start() {
	go e.run()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// CurrentState returns the client-facing snapshot of the round.
func (e *Engine) CurrentState() StateMessage {
	e.stateMutex.RLock()
	defer e.stateMutex.RUnlock()
	if e.round == nil {
		return StateMessage{Type: "state", Phase: PhaseBetting, Multiplier: MIN_MULTIPLIER, Bets: []BetView{}}
	}
	return e.round.publicState()
}

// PlaceBet submits a bet and waits for settlement. Safe to call from
// any goroutine.
func (e *Engine) PlaceBet(req BetRequest) (BetResult, error) {
	r := betRequest{BetRequest: req, resp: make(chan betReply, 1)}
	select {
	case e.betCh <- r:
	default:
		return BetResult{}, ErrEngineBusy
	}
	select {
	case reply := <-r.resp:
		return reply.result, reply.err
	case <-time.After(e.cfg.ActionTimeout):
		return BetResult{}, ErrLedgerFailure
	}
}

// Cashout locks in the current multiplier for the player's bet.
func (e *Engine) Cashout(playerID string) (CashoutResult, error) {
	r := cashoutRequest{playerID: playerID, resp: make(chan cashoutReply, 1)}
	select {
	case e.cashoutCh <- r:
	default:
		return CashoutResult{}, ErrEngineBusy
	}
	select {
	case reply := <-r.resp:
		return reply.result, reply.err
	case <-time.After(e.cfg.ActionTimeout):
		return CashoutResult{}, ErrLedgerFailure
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.stopCh:
			log.Println("[GAME] Engine stopped")
			return
		default:
			e.playRound()
		}
	}
}

// playRound is one full cycle. Each phase stops its own ticker before
// the next phase starts, so tick streams never overlap.
func (e *Engine) playRound() {
	e.stateMutex.Lock()
	e.nextRoundID++
	e.round = &Round{
		ID:         e.nextRoundID,
		Phase:      PhaseBetting,
		Multiplier: MIN_MULTIPLIER,
		CrashAt:    e.crashPoint(),
		TimeLeft:   e.cfg.BettingSeconds,
		Bets:       nil,
	}
	roundID := e.round.ID
	crashAt := e.round.CrashAt
	e.stateMutex.Unlock()

	log.Printf("[GAME] Round %d betting starts, crashAt=%.2f", roundID, crashAt)
	e.broadcastState()

	countdown := time.NewTicker(e.cfg.CountdownInterval)
	for betting := true; betting; {
		select {
		case <-countdown.C:
			e.stateMutex.Lock()
			e.round.TimeLeft--
			timeLeft := e.round.TimeLeft
			e.stateMutex.Unlock()
			e.hub.Broadcast(CountdownMessage{Type: "countdown", TimeLeft: timeLeft})
			if timeLeft <= 0 {
				betting = false
			}
		case req := <-e.betCh:
			e.handleBet(req)
		case req := <-e.cashoutCh:
			req.resp <- cashoutReply{err: ErrCashoutClosed}
		case s := <-e.settleCh:
			e.applySettlement(s)
		case <-e.stopCh:
			countdown.Stop()
			return
		}
	}
	countdown.Stop()

	e.stateMutex.Lock()
	e.round.Phase = PhaseFlying
	e.round.Multiplier = MIN_MULTIPLIER
	e.stateMutex.Unlock()
	log.Printf("[GAME] Round %d flying, crashAt=%.2f", roundID, crashAt)
	e.broadcastState()

	start := time.Now()
	tick := time.NewTicker(e.cfg.TickInterval)
	for flying := true; flying; {
		select {
		case <-tick.C:
			e.stateMutex.Lock()
			elapsed := time.Since(start).Seconds()
			m := growthMultiplier(elapsed, e.cfg.GrowthRate)
			crashed := m >= e.round.CrashAt
			if crashed {
				// Clamp: the displayed multiplier never overshoots the
				// crash point.
				m = e.round.CrashAt
				e.round.Phase = PhaseCrashed
			}
			if m > e.round.Multiplier {
				e.round.Multiplier = m
			}
			current := e.round.Multiplier
			e.stateMutex.Unlock()

			if crashed {
				tick.Stop()
				e.crash(roundID)
				flying = false
				continue
			}
			e.hub.Broadcast(TickMessage{Type: "tick", Multiplier: current})
		case req := <-e.betCh:
			req.resp <- betReply{err: ErrBettingClosed}
		case req := <-e.cashoutCh:
			e.handleCashout(req)
		case s := <-e.settleCh:
			e.applySettlement(s)
		case <-e.stopCh:
			tick.Stop()
			return
		}
	}

	pause := time.NewTimer(e.cfg.CrashPause)
	for {
		select {
		case <-pause.C:
			return
		case req := <-e.betCh:
			req.resp <- betReply{err: ErrBettingClosed}
		case req := <-e.cashoutCh:
			req.resp <- cashoutReply{err: ErrCashoutClosed}
		case s := <-e.settleCh:
			e.applySettlement(s)
		case <-e.stopCh:
			pause.Stop()
			return
		}
	}
}

func (e *Engine) crash(roundID int64) {
	e.stateMutex.RLock()
	summary := e.round.crashSummary()
	e.stateMutex.RUnlock()

	log.Printf("[GAME] Round %d CRASH at %.2fx", roundID, summary.CrashAt)
	e.broadcastState()
	e.hub.Broadcast(summary)

	if e.archive != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LedgerTimeout)
			defer cancel()
			if err := e.archive.RecordRound(ctx, roundID, summary.CrashAt, summary); err != nil {
				log.Printf("[GAME] Round %d archive error: %v", roundID, err)
			}
		}()
	}
}

// handleBet validates preconditions and reserves the player's slot
// before the ledger call, so a concurrent bet from the same player
// cannot slip past the duplicate check during the I/O wait.
func (e *Engine) handleBet(req betRequest) {
	if req.Amount <= 0 {
		req.resp <- betReply{err: ErrInvalidAmount}
		return
	}

	e.stateMutex.Lock()
	r := e.round
	if r.Phase != PhaseBetting {
		e.stateMutex.Unlock()
		req.resp <- betReply{err: ErrBettingClosed}
		return
	}
	if r.findBet(req.PlayerID) != nil {
		e.stateMutex.Unlock()
		req.resp <- betReply{err: ErrDuplicateBet}
		return
	}
	name := req.DisplayName
	if name == "" {
		name = "anonymous"
	}
	r.Bets = append(r.Bets, &Bet{
		PlayerID:    req.PlayerID,
		DisplayName: name,
		Amount:      req.Amount,
		pending:     true,
	})
	roundID := r.ID
	e.stateMutex.Unlock()

	go e.settleBet(roundID, req)
}

func (e *Engine) settleBet(roundID int64, req betRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LedgerTimeout)
	defer cancel()
	balance, err := e.ledger.DebitForBet(ctx, req.PlayerID, req.Amount)
	e.settleCh <- settlement{
		kind:     settleBet,
		roundID:  roundID,
		playerID: req.PlayerID,
		amount:   req.Amount,
		balance:  balance,
		err:      err,
		betResp:  req.resp,
	}
}

// handleCashout captures the multiplier and flips cashedOut inside the
// run loop, then credits asynchronously. Marking before the credit
// guarantees at-most-once application.
func (e *Engine) handleCashout(req cashoutRequest) {
	e.stateMutex.Lock()
	r := e.round
	if r.Phase != PhaseFlying {
		e.stateMutex.Unlock()
		req.resp <- cashoutReply{err: ErrCashoutClosed}
		return
	}
	bet := r.findBet(req.playerID)
	if bet == nil || bet.pending || bet.CashedOut {
		e.stateMutex.Unlock()
		req.resp <- cashoutReply{err: ErrBetNotFound}
		return
	}
	multiplier := r.Multiplier
	bet.CashedOut = true
	bet.CashoutMultiplier = &multiplier
	amount := bet.Amount
	roundID := r.ID
	e.stateMutex.Unlock()

	winAmount := round4(amount * multiplier)
	go e.settleCashout(roundID, req, amount, multiplier, winAmount)
}

func (e *Engine) settleCashout(roundID int64, req cashoutRequest, amount, multiplier, winAmount float64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LedgerTimeout)
	defer cancel()
	balance, err := e.ledger.CreditWin(ctx, req.playerID, amount, winAmount, multiplier)
	e.settleCh <- settlement{
		kind:        settleCashout,
		roundID:     roundID,
		playerID:    req.playerID,
		amount:      amount,
		balance:     balance,
		err:         err,
		multiplier:  multiplier,
		winAmount:   winAmount,
		cashoutResp: req.resp,
	}
}

func (e *Engine) applySettlement(s settlement) {
	switch s.kind {
	case settleBet:
		e.finalizeBet(s)
	case settleCashout:
		e.finalizeCashout(s)
	}
}

func (e *Engine) finalizeBet(s settlement) {
	e.stateMutex.Lock()
	r := e.round
	if r.ID != s.roundID {
		// The round rolled over while the debit was in flight; the
		// reservation is gone with it. Give the money back.
		e.stateMutex.Unlock()
		if s.err == nil {
			go e.refund(s.playerID, s.amount)
		}
		s.betResp <- betReply{err: ErrBettingClosed}
		return
	}
	if s.err != nil {
		r.removeBet(s.playerID)
		e.stateMutex.Unlock()
		s.betResp <- betReply{err: mapLedgerError(s.err)}
		return
	}
	bet := r.findBet(s.playerID)
	if bet != nil {
		bet.pending = false
	}
	e.stateMutex.Unlock()

	log.Printf("[BET] %s bet %.2f, balance now %.2f", s.playerID, s.amount, s.balance)
	e.broadcastState()
	s.betResp <- betReply{result: BetResult{Balance: s.balance}}
}

func (e *Engine) finalizeCashout(s settlement) {
	if s.err != nil {
		// The bet stays cashed out: crediting is at-most-once and the
		// failure is surfaced rather than retried against live state.
		log.Printf("[CASHOUT] %s credit failed at %.2fx: %v", s.playerID, s.multiplier, s.err)
		s.cashoutResp <- cashoutReply{err: mapLedgerError(s.err)}
		return
	}
	log.Printf("[CASHOUT] %s cashed out at %.2fx, won %.4f", s.playerID, s.multiplier, s.winAmount)
	e.broadcastState()
	s.cashoutResp <- cashoutReply{result: CashoutResult{
		Multiplier: s.multiplier,
		WinAmount:  s.winAmount,
		Balance:    s.balance,
	}}
}

func (e *Engine) refund(playerID string, amount float64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LedgerTimeout)
	defer cancel()
	if err := e.ledger.Refund(ctx, playerID, amount); err != nil {
		log.Printf("[BET] Refund of %.2f to %s failed: %v", amount, playerID, err)
	}
}

func (e *Engine) broadcastState() {
	e.stateMutex.RLock()
	state := e.round.publicState()
	e.stateMutex.RUnlock()
	e.hub.Broadcast(state)
}

func mapLedgerError(err error) error {
	if errors.Is(err, ledger.ErrPlayerNotFound) || errors.Is(err, ledger.ErrInsufficientFunds) {
		return err
	}
	return ErrLedgerFailure
}
