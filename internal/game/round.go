package game

// Phase is the round lifecycle state. Transitions are strictly cyclic:
// betting -> flying -> crashed -> betting.
type Phase string

const (
	PhaseBetting Phase = "betting"
	PhaseFlying  Phase = "flying"
	PhaseCrashed Phase = "crashed"
)

// Bet is one player's stake in the current round. A bet starts pending
// while the ledger debit is in flight; pending bets reserve the
// player's slot (duplicate check) but are invisible to clients until
// the debit commits.
type Bet struct {
	PlayerID          string
	DisplayName       string
	Amount            float64
	CashedOut         bool
	CashoutMultiplier *float64
	pending           bool
}

// Round is the single authoritative game record. It is owned by the
// engine's run loop; external readers get copies via snapshots.
type Round struct {
	ID         int64
	Phase      Phase
	Multiplier float64
	CrashAt    float64
	TimeLeft   int
	Bets       []*Bet
}

func (r *Round) findBet(playerID string) *Bet {
	for _, b := range r.Bets {
		if b.PlayerID == playerID {
			return b
		}
	}
	return nil
}

func (r *Round) removeBet(playerID string) {
	for i, b := range r.Bets {
		if b.PlayerID == playerID {
			r.Bets = append(r.Bets[:i], r.Bets[i+1:]...)
			return
		}
	}
}

// publicState serializes the round for clients. crashAt stays hidden
// until the round has crashed; pending bets are omitted.
func (r *Round) publicState() StateMessage {
	var crashAt *float64
	if r.Phase == PhaseCrashed {
		v := r.CrashAt
		crashAt = &v
	}
	bets := make([]BetView, 0, len(r.Bets))
	for _, b := range r.Bets {
		if b.pending {
			continue
		}
		bets = append(bets, BetView{
			PlayerID:          b.PlayerID,
			DisplayName:       b.DisplayName,
			Amount:            b.Amount,
			CashedOut:         b.CashedOut,
			CashoutMultiplier: b.CashoutMultiplier,
		})
	}
	return StateMessage{
		Type:       "state",
		Phase:      r.Phase,
		Multiplier: r.Multiplier,
		CrashAt:    crashAt,
		Bets:       bets,
		RoundID:    r.ID,
		TimeLeft:   r.TimeLeft,
	}
}

func (r *Round) crashSummary() CrashMessage {
	bets := make([]CrashBetView, 0, len(r.Bets))
	for _, b := range r.Bets {
		if b.pending {
			continue
		}
		bets = append(bets, CrashBetView{
			DisplayName:       b.DisplayName,
			Amount:            b.Amount,
			CashedOut:         b.CashedOut,
			CashoutMultiplier: b.CashoutMultiplier,
		})
	}
	return CrashMessage{
		Type:    "crash",
		CrashAt: r.CrashAt,
		Bets:    bets,
	}
}
