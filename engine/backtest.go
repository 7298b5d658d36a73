package engine

import (
	"time"

	"tfmr/filter"
	"tfmr/indicator"
	"tfmr/market"
)

const timeLayout = "2006-01-02"

type actionKind int

const (
	actionEnter actionKind = iota
	actionAdd
	actionExit
)

// pendingAction is a signal awaiting next-open execution (close-confirm
// model). Only used when PriceBasis is next_open.
type pendingAction struct {
	kind   actionKind
	reason string
}

// Backtest replays the series bar by bar through an explicit state machine
// (flat -> long/short -> flat) driven by the entry and exit rule trees.
//
// Policy, fixed and auditable:
//   - exit is evaluated before entry at the same index; after an exit the
//     earliest re-entry is the next index
//   - additional rounds (pyramiding) only fire while MaxRounds > 1, the entry
//     spec still holds, and price stepped beyond StepDrop from the last fill
//   - a series shorter than indicator warm-up yields an empty report, not an
//     error; a rule referencing an undeclared indicator is a fatal config error
func Backtest(s *market.Series, cfg RunConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := &Report{Symbol: s.Symbol, Bars: s.Len(), Trades: []Trade{}}
	if s.Len() < cfg.Indicators.WarmUp() {
		report.Metrics = Aggregate(report.Trades)
		return report, nil
	}

	set, err := indicator.Compute(s, cfg.Indicators)
	if err != nil {
		return nil, err
	}

	sim := &simulator{s: s, set: set, cfg: cfg, state: StateFlat}
	for i := 0; i < s.Len(); i++ {
		if err := sim.step(i); err != nil {
			return nil, err
		}
	}
	sim.finish()

	report.Trades = sim.trades
	report.Metrics = Aggregate(report.Trades)
	return report, nil
}

type simulator struct {
	s   *market.Series
	set indicator.Set
	cfg RunConfig

	state   State
	pos     Position
	pending *pendingAction
	trades  []Trade
}

func (m *simulator) step(i int) error {
	bar := m.s.Bars[i]

	// Execute last bar's pending signal at this bar's open.
	if m.pending != nil {
		p := *m.pending
		m.pending = nil
		m.execute(p, i, bar.Open, bar.Time)
	}

	// Signal generation at the close. Exit before entry: a position only ever
	// sees its exit spec at this index, so the same bar cannot both close a
	// trade and open the next one.
	if m.state != StateFlat {
		if m.cfg.Exit != nil {
			ok, err := filter.Evaluate(m.cfg.Exit, m.s, m.set, i)
			if err != nil {
				return err
			}
			if ok {
				m.signal(pendingAction{kind: actionExit, reason: m.exitReason(i)}, i, bar)
				return nil
			}
		}
		// Scale in while the entry condition persists and price stepped far
		// enough from the previous fill.
		if m.cfg.MaxRounds > 1 && m.pos.Rounds < m.cfg.MaxRounds {
			ok, err := filter.Evaluate(m.cfg.Entry, m.s, m.set, i)
			if err != nil {
				return err
			}
			if ok && m.stepArmed(bar.Close) {
				m.signal(pendingAction{kind: actionAdd}, i, bar)
			}
		}
		return nil
	}

	ok, err := filter.Evaluate(m.cfg.Entry, m.s, m.set, i)
	if err != nil {
		return err
	}
	if ok {
		m.signal(pendingAction{kind: actionEnter}, i, bar)
	}
	return nil
}

// signal executes immediately on the signal bar's close, or defers to the
// next bar's open. A next-open signal on the final bar never executes.
func (m *simulator) signal(p pendingAction, i int, bar market.Bar) {
	if m.cfg.PriceBasis == BasisClose {
		m.execute(p, i, bar.Close, bar.Time)
		return
	}
	if i+1 < m.s.Len() {
		m.pending = &p
	}
}

func (m *simulator) execute(p pendingAction, i int, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	switch p.kind {
	case actionEnter:
		if m.state != StateFlat {
			return
		}
		m.openPosition(i, price, at)
	case actionAdd:
		if m.state == StateFlat {
			return
		}
		m.addRound(i, price, at)
	case actionExit:
		if m.state == StateFlat {
			return
		}
		m.closePosition(i, price, at, p.reason)
	}
}

// stepArmed reports whether price moved beyond StepDrop against the position
// since the previous fill (down for longs, up for shorts).
func (m *simulator) stepArmed(close float64) bool {
	if len(m.pos.Fills) == 0 {
		return false
	}
	last := m.pos.Fills[len(m.pos.Fills)-1].Price
	if m.pos.Direction == DirectionShort {
		return close >= last*(1+m.cfg.StepDrop)
	}
	return close <= last*(1-m.cfg.StepDrop)
}

// roundWeights allocate capital linearly across rounds: 1x, 2x, ... MaxRounds.
func (m *simulator) roundBudget(round int) float64 {
	total := 0.0
	for r := 1; r <= m.cfg.MaxRounds; r++ {
		total += float64(r)
	}
	return m.cfg.InitialCash * float64(round) / total
}

func (m *simulator) fill(round, i int, price float64, at time.Time) bool {
	budget := m.roundBudget(round)
	remaining := m.cfg.InitialCash - m.pos.Cost
	if remaining < budget {
		budget = remaining
	}
	if budget <= 0 {
		return false
	}

	unitCost := price * (1 + m.cfg.Fees.BuyRate)
	qty := float64(int(budget / unitCost))
	if qty < 1 {
		return false
	}

	raw := money(price * qty)
	fee := m.cfg.Fees.BuyFee(raw)
	total := money(raw + fee)
	// Guard against cent-rounding pushing the order past remaining capital.
	for qty > 0 && total > remaining+1e-9 {
		qty--
		raw = money(price * qty)
		fee = m.cfg.Fees.BuyFee(raw)
		total = money(raw + fee)
	}
	if qty < 1 {
		return false
	}

	dropPct := 0.0
	if len(m.pos.Fills) > 0 {
		prev := m.pos.Fills[len(m.pos.Fills)-1].Price
		if prev > 0 {
			dropPct = (price - prev) / prev * 100
		}
	}

	m.pos.Qty += qty
	m.pos.Cost = money(m.pos.Cost + total)
	m.pos.AvgPrice = m.pos.Cost / m.pos.Qty
	m.pos.Rounds = round
	m.pos.Fills = append(m.pos.Fills, Fill{
		Round:    round,
		Index:    i,
		Time:     at.Format(timeLayout),
		Qty:      qty,
		Price:    price,
		Fee:      fee,
		Amount:   raw,
		AvgPrice: round2(m.pos.AvgPrice),
		DropPct:  round2(dropPct),
	})
	return true
}

func (m *simulator) openPosition(i int, price float64, at time.Time) {
	dir := m.cfg.Direction
	if dir == DirectionShort && !m.cfg.ShortSelling {
		return
	}
	m.pos = Position{Direction: dir, EntryIndex: i, EntryTime: at}
	if !m.fill(1, i, price, at) {
		m.pos = Position{}
		return
	}
	if dir == DirectionShort {
		m.state = StateShort
	} else {
		m.state = StateLong
	}
}

func (m *simulator) addRound(i int, price float64, at time.Time) {
	m.fill(m.pos.Rounds+1, i, price, at)
}

func (m *simulator) closePosition(i int, price float64, at time.Time, reason string) {
	pos := m.pos
	amount := money(price * pos.Qty)
	exitFees := m.cfg.Fees.SellFees(at, amount, pos.Qty)

	var raw, buyFees float64
	for _, f := range pos.Fills {
		raw += f.Amount
		buyFees += f.Fee
	}
	d := 1.0
	if pos.Direction == DirectionShort {
		d = -1
	}
	gross := d * (amount - raw)
	net := money(gross - buyFees - exitFees.Total)

	retPct := 0.0
	if pos.Cost > 0 {
		retPct = net / pos.Cost * 100
	}

	m.trades = append(m.trades, Trade{
		Symbol:      m.s.Symbol,
		Direction:   pos.Direction,
		EntryIndex:  pos.EntryIndex,
		EntryTime:   pos.EntryTime.Format(timeLayout),
		EntryPrice:  round2(pos.AvgPrice),
		ExitIndex:   i,
		ExitTime:    at.Format(timeLayout),
		ExitPrice:   round2(price),
		Qty:         pos.Qty,
		Rounds:      pos.Rounds,
		HoldingBars: i - pos.EntryIndex,
		GrossPnL:    round2(gross),
		NetPnL:      net,
		ReturnPct:   round2(retPct),
		ReasonExit:  reason,
		Fills:       pos.Fills,
		ExitFees:    exitFees,
	})
	m.pos = Position{}
	m.state = StateFlat
}

// finish applies the end-of-series policy to a still-open position. Discard
// drops it from the log; force_close books it at the last close. Never
// silently dropped.
func (m *simulator) finish() {
	if m.state == StateFlat {
		return
	}
	if m.cfg.EndOfSeries == EndDiscard {
		m.pos = Position{}
		m.state = StateFlat
		return
	}
	last := m.s.Bars[m.s.Len()-1]
	m.closePosition(m.s.Len()-1, last.Close, last.Time, "force_close_end")
}

// exitReason names the first matching leaf of a top-level OR exit tree so the
// trade log records which condition fired; composite trees fall back to
// "signal".
func (m *simulator) exitReason(i int) string {
	if m.cfg.Exit == nil || len(m.cfg.Exit.Any) == 0 {
		return "signal"
	}
	for _, child := range m.cfg.Exit.Any {
		ok, err := filter.Evaluate(child, m.s, m.set, i)
		if err == nil && ok {
			if child.Rule != nil && child.Rule.Name != "" {
				return child.Rule.Name
			}
			return "signal"
		}
	}
	return "signal"
}
