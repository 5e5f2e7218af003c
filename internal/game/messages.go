package game

// ClientMessage is one inbound action over the websocket. The player
// identity rides on every message and is bound lazily to the session.
type ClientMessage struct {
	Type        string  `json:"type"`
	PlayerID    string  `json:"playerId"`
	DisplayName string  `json:"displayName,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
}

// BetView is the per-bet shape inside a state broadcast.
type BetView struct {
	PlayerID          string   `json:"playerId"`
	DisplayName       string   `json:"displayName"`
	Amount            float64  `json:"amount"`
	CashedOut         bool     `json:"cashedOut"`
	CashoutMultiplier *float64 `json:"cashoutMultiplier"`
}

// CrashBetView is the end-of-round bet summary. No player id: the crash
// leaderboard is display-only.
type CrashBetView struct {
	DisplayName       string   `json:"displayName"`
	Amount            float64  `json:"amount"`
	CashedOut         bool     `json:"cashedOut"`
	CashoutMultiplier *float64 `json:"cashoutMultiplier"`
}

// StateMessage is the full round snapshot pushed on connect and after
// every state-changing action. CrashAt is null until the crash.
type StateMessage struct {
	Type       string    `json:"type"`
	Phase      Phase     `json:"phase"`
	Multiplier float64   `json:"multiplier"`
	CrashAt    *float64  `json:"crashAt"`
	Bets       []BetView `json:"bets"`
	RoundID    int64     `json:"roundId"`
	TimeLeft   int       `json:"timeLeft"`
}

type CountdownMessage struct {
	Type     string `json:"type"`
	TimeLeft int    `json:"timeLeft"`
}

type TickMessage struct {
	Type       string  `json:"type"`
	Multiplier float64 `json:"multiplier"`
}

type CrashMessage struct {
	Type    string         `json:"type"`
	CrashAt float64        `json:"crashAt"`
	Bets    []CrashBetView `json:"bets"`
}

type BetOkMessage struct {
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
}

type CashoutOkMessage struct {
	Type       string  `json:"type"`
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"winAmount"`
	Balance    float64 `json:"balance"`
}

type ErrorMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
