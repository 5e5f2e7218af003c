package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rocket/internal/ledger"
)

// captureHub records everything the engine broadcasts.
type captureHub struct {
	mu       sync.Mutex
	messages []interface{}
}

func (h *captureHub) Broadcast(message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, message)
}

func (h *captureHub) all() []interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]interface{}, len(h.messages))
	copy(out, h.messages)
	return out
}

func fastConfig() Config {
	return Config{
		BettingSeconds:    50,
		CountdownInterval: 10 * time.Millisecond,
		TickInterval:      5 * time.Millisecond,
		CrashPause:        30 * time.Millisecond,
		GrowthRate:        5.0,
		LedgerTimeout:     time.Second,
		ActionTimeout:     2 * time.Second,
	}
}

func newTestEngine(crashAt float64, cfg Config) (*Engine, *ledger.Memory, *captureHub) {
	mem := ledger.NewMemory()
	hub := &captureHub{}
	e := NewEngine(hub, mem, nil, NewCrashPointGenerator(1), cfg)
	e.crashPoint = func() float64 { return crashAt }
	return e, mem, hub
}

func waitForPhase(t *testing.T, e *Engine, phase Phase) StateMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state := e.CurrentState()
		if state.RoundID > 0 && state.Phase == phase {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine never reached phase %s (now %s)", phase, e.CurrentState().Phase)
	return StateMessage{}
}

func TestEngine_PlaceBet(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	result, err := e.PlaceBet(BetRequest{PlayerID: "A", DisplayName: "alice", Amount: 100})
	if err != nil {
		t.Fatalf("PlaceBet() error = %v", err)
	}
	if result.Balance != 400 {
		t.Errorf("balance = %v, want 400", result.Balance)
	}

	state := e.CurrentState()
	if len(state.Bets) != 1 {
		t.Fatalf("state has %d bets, want 1", len(state.Bets))
	}
	bet := state.Bets[0]
	if bet.PlayerID != "A" || bet.Amount != 100 || bet.CashedOut {
		t.Errorf("unexpected bet view: %+v", bet)
	}

	acct, err := mem.FindAccount(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 400 || acct.TotalBets != 100 || acct.TotalGames != 1 {
		t.Errorf("account after bet: %+v", acct)
	}

	txs := mem.Transactions()
	if len(txs) != 1 || txs[0].Kind != ledger.TxKindBet || txs[0].Amount != 100 {
		t.Errorf("transactions after bet: %+v", txs)
	}
}

func TestEngine_PlaceBetValidation(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 50)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	t.Run("non-positive amount", func(t *testing.T) {
		if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("error = %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("unknown player", func(t *testing.T) {
		if _, err := e.PlaceBet(BetRequest{PlayerID: "ghost", Amount: 10}); !errors.Is(err, ledger.ErrPlayerNotFound) {
			t.Errorf("error = %v, want ErrPlayerNotFound", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Errorf("error = %v, want ErrInsufficientFunds", err)
		}
		acct, _ := mem.FindAccount(context.Background(), "A")
		if acct.Balance != 50 {
			t.Errorf("balance changed on failed bet: %v", acct.Balance)
		}
		// The reservation is rolled back, not left pending.
		if state := e.CurrentState(); len(state.Bets) != 0 {
			t.Errorf("failed bet left %d bets in state", len(state.Bets))
		}
	})
}

func TestEngine_DuplicateBet(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); err != nil {
		t.Fatalf("first bet: %v", err)
	}
	if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); !errors.Is(err, ErrDuplicateBet) {
		t.Fatalf("second bet error = %v, want ErrDuplicateBet", err)
	}

	acct, _ := mem.FindAccount(context.Background(), "A")
	if acct.Balance != 400 {
		t.Errorf("balance = %v, want 400 (single debit)", acct.Balance)
	}
}

func TestEngine_ConcurrentBetsSamePlayer(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	const attempts = 5
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateBet):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != attempts-1 {
		t.Errorf("got %d successes and %d duplicates, want 1 and %d", ok, dup, attempts-1)
	}

	acct, _ := mem.FindAccount(context.Background(), "A")
	if acct.Balance != 400 {
		t.Errorf("balance = %v, want 400 (single debit)", acct.Balance)
	}
}

func TestEngine_BetOutsideBettingPhase(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("C", "carol", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseFlying)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "C", Amount: 100}); !errors.Is(err, ErrBettingClosed) {
		t.Fatalf("error = %v, want ErrBettingClosed", err)
	}
	acct, _ := mem.FindAccount(context.Background(), "C")
	if acct.Balance != 500 {
		t.Errorf("balance = %v, want untouched 500", acct.Balance)
	}
}

func TestEngine_Cashout(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	waitForPhase(t, e, PhaseFlying)

	result, err := e.Cashout("A")
	if err != nil {
		t.Fatalf("Cashout() error = %v", err)
	}
	if result.Multiplier < MIN_MULTIPLIER {
		t.Errorf("multiplier = %v, below 1.00", result.Multiplier)
	}
	if want := round4(100 * result.Multiplier); result.WinAmount != want {
		t.Errorf("winAmount = %v, want %v", result.WinAmount, want)
	}
	if want := 400 + result.WinAmount; result.Balance != want {
		t.Errorf("balance = %v, want %v", result.Balance, want)
	}

	acct, _ := mem.FindAccount(context.Background(), "A")
	if acct.TotalWins != 1 {
		t.Errorf("totalWins = %v, want 1", acct.TotalWins)
	}
	if acct.BestMultiplier != result.Multiplier {
		t.Errorf("bestMultiplier = %v, want %v", acct.BestMultiplier, result.Multiplier)
	}

	// A bet cashes out exactly once.
	if _, err := e.Cashout("A"); !errors.Is(err, ErrBetNotFound) {
		t.Fatalf("second cashout error = %v, want ErrBetNotFound", err)
	}
}

func TestEngine_CashoutOutsideFlyingPhase(t *testing.T) {
	e, mem, _ := newTestEngine(1000, fastConfig())
	mem.Seed("A", "alice", 500)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := e.Cashout("A"); !errors.Is(err, ErrCashoutClosed) {
		t.Fatalf("cashout in betting error = %v, want ErrCashoutClosed", err)
	}

	acct, _ := mem.FindAccount(context.Background(), "A")
	if acct.Balance != 400 || acct.TotalWins != 0 {
		t.Errorf("account mutated by rejected cashout: %+v", acct)
	}
}

func TestEngine_UncashedBetIsTotalLoss(t *testing.T) {
	e, mem, _ := newTestEngine(1.05, fastConfig())
	mem.Seed("B", "bob", 100)
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "B", Amount: 50}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	waitForPhase(t, e, PhaseCrashed)

	// No ledger action at crash time: the stake is already gone.
	acct, _ := mem.FindAccount(context.Background(), "B")
	if acct.Balance != 50 || acct.TotalWins != 0 {
		t.Errorf("account after crash: %+v", acct)
	}
	for _, tx := range mem.Transactions() {
		if tx.Kind == ledger.TxKindWin {
			t.Errorf("unexpected win transaction: %+v", tx)
		}
	}
}

func TestEngine_PhaseCycle(t *testing.T) {
	e, _, hub := newTestEngine(1.05, fastConfig())
	e.Start()
	defer e.Stop()

	first := waitForPhase(t, e, PhaseBetting)
	waitForPhase(t, e, PhaseFlying)
	waitForPhase(t, e, PhaseCrashed)
	second := waitForPhase(t, e, PhaseBetting)

	if second.RoundID != first.RoundID+1 {
		t.Errorf("round id after cycle = %d, want %d", second.RoundID, first.RoundID+1)
	}

	// State broadcasts follow the strict cycle with no skips.
	var phases []Phase
	var lastRound int64
	for _, m := range hub.all() {
		if state, ok := m.(StateMessage); ok && state.RoundID <= first.RoundID+1 {
			if len(phases) == 0 || phases[len(phases)-1] != state.Phase || state.RoundID != lastRound {
				phases = append(phases, state.Phase)
				lastRound = state.RoundID
			}
		}
	}
	want := []Phase{PhaseBetting, PhaseFlying, PhaseCrashed, PhaseBetting}
	for i, p := range want {
		if i >= len(phases) || phases[i] != p {
			t.Fatalf("phase sequence = %v, want prefix %v", phases, want)
		}
	}
}

func TestEngine_CrashBroadcast(t *testing.T) {
	e, _, hub := newTestEngine(1.05, fastConfig())
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseCrashed)

	var crash *CrashMessage
	for _, m := range hub.all() {
		if c, ok := m.(CrashMessage); ok {
			crash = &c
			break
		}
	}
	if crash == nil {
		t.Fatal("no crash message broadcast")
	}
	if crash.CrashAt != 1.05 {
		t.Errorf("crash crashAt = %v, want 1.05", crash.CrashAt)
	}

	// crashAt is revealed in state only once the round has crashed.
	for _, m := range hub.all() {
		if state, ok := m.(StateMessage); ok {
			if state.Phase != PhaseCrashed && state.CrashAt != nil {
				t.Errorf("crashAt leaked in %s state", state.Phase)
			}
		}
	}
}

func TestEngine_MultiplierMonotonicAndClamped(t *testing.T) {
	e, _, hub := newTestEngine(1.5, fastConfig())
	e.Start()
	waitForPhase(t, e, PhaseCrashed)
	e.Stop() // freeze the stream before the next round's ticks

	prev := 0.0
	for _, m := range hub.all() {
		tick, ok := m.(TickMessage)
		if !ok {
			continue
		}
		if tick.Multiplier < prev {
			t.Fatalf("multiplier decreased: %v -> %v", prev, tick.Multiplier)
		}
		if tick.Multiplier >= 1.5 {
			t.Fatalf("tick overshot the crash point: %v", tick.Multiplier)
		}
		prev = tick.Multiplier
	}

	if state := e.CurrentState(); state.Phase == PhaseCrashed && state.Multiplier != 1.5 {
		t.Errorf("crashed multiplier = %v, want clamped 1.5", state.Multiplier)
	}
}

// failingGateway errors on every mutation.
type failingGateway struct{}

func (failingGateway) FindAccount(ctx context.Context, playerID string) (ledger.Account, error) {
	return ledger.Account{}, errors.New("ledger offline")
}

func (failingGateway) DebitForBet(ctx context.Context, playerID string, amount float64) (float64, error) {
	return 0, errors.New("ledger offline")
}

func (failingGateway) CreditWin(ctx context.Context, playerID string, stake, winAmount, multiplier float64) (float64, error) {
	return 0, errors.New("ledger offline")
}

func (failingGateway) Refund(ctx context.Context, playerID string, amount float64) error {
	return errors.New("ledger offline")
}

func TestEngine_LedgerFailureRollsBackReservation(t *testing.T) {
	hub := &captureHub{}
	e := NewEngine(hub, failingGateway{}, nil, NewCrashPointGenerator(1), fastConfig())
	e.crashPoint = func() float64 { return 1000 }
	e.Start()
	defer e.Stop()
	waitForPhase(t, e, PhaseBetting)

	if _, err := e.PlaceBet(BetRequest{PlayerID: "A", Amount: 100}); !errors.Is(err, ErrLedgerFailure) {
		t.Fatalf("error = %v, want ErrLedgerFailure", err)
	}
	if state := e.CurrentState(); len(state.Bets) != 0 {
		t.Errorf("failed debit left %d bets in state", len(state.Bets))
	}

	// The round loop keeps running after a per-action failure.
	if _, err := e.PlaceBet(BetRequest{PlayerID: "B", Amount: 10}); !errors.Is(err, ErrLedgerFailure) {
		t.Errorf("engine stopped serving after ledger failure: %v", err)
	}
}
