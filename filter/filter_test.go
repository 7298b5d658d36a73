package filter

import (
	"errors"
	"math"
	"testing"
	"time"

	"tfmr/indicator"
	"tfmr/market"
)

func fptr(v float64) *float64 { return &v }

func oneBar(open, close float64) *market.Series {
	return &market.Series{
		Symbol: "TEST",
		Bars: []market.Bar{{
			Time: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			Open: open, High: close, Low: open, Close: close,
			Volume: 100,
		}},
	}
}

func TestEvaluateLeafComparisons(t *testing.T) {
	s := oneBar(10, 12)
	set := indicator.Set{"x": {Name: "x", Values: []float64{11}}}

	gt := &Spec{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpGT, Right: Operand{Indicator: "x"}}}
	if ok, err := Evaluate(gt, s, set, 0); err != nil || !ok {
		t.Fatalf("close gt x = %v, %v; want true", ok, err)
	}

	lt := &Spec{Rule: &Rule{Left: Operand{Field: "open"}, Op: OpLT, Right: Operand{Value: fptr(10.5)}}}
	if ok, err := Evaluate(lt, s, set, 0); err != nil || !ok {
		t.Fatalf("open lt 10.5 = %v, %v; want true", ok, err)
	}
}

func TestEvaluateWithin(t *testing.T) {
	s := oneBar(10, 12)
	set := indicator.Set{"rsi": {Name: "rsi", Values: []float64{35}}}

	sp := &Spec{Rule: &Rule{Left: Operand{Indicator: "rsi"}, Op: OpWithin, Min: fptr(30), Max: fptr(40)}}
	if ok, err := Evaluate(sp, s, set, 0); err != nil || !ok {
		t.Fatalf("within [30,40] = %v, %v; want true", ok, err)
	}

	sp.Rule.Max = fptr(34)
	if ok, _ := Evaluate(sp, s, set, 0); ok {
		t.Fatal("within [30,34] on 35, want false")
	}
}

func TestEvaluateCross(t *testing.T) {
	s := &market.Series{Symbol: "TEST", Bars: make([]market.Bar, 2)}
	set := indicator.Set{
		"fast": {Name: "fast", Values: []float64{1, 3}},
		"slow": {Name: "slow", Values: []float64{2, 2}},
	}

	above := &Spec{Rule: &Rule{Left: Operand{Indicator: "fast"}, Op: OpCrossAbove, Right: Operand{Indicator: "slow"}}}
	if ok, err := Evaluate(above, s, set, 1); err != nil || !ok {
		t.Fatalf("cross_above at 1 = %v, %v; want true", ok, err)
	}
	if ok, err := Evaluate(above, s, set, 0); err != nil || ok {
		t.Fatalf("cross_above at 0 = %v, %v; want false", ok, err)
	}

	below := &Spec{Rule: &Rule{Left: Operand{Indicator: "slow"}, Op: OpCrossBelow, Right: Operand{Indicator: "fast"}}}
	if ok, err := Evaluate(below, s, set, 1); err != nil || !ok {
		t.Fatalf("cross_below at 1 = %v, %v; want true", ok, err)
	}
}

func TestEvaluateCrossNeedsDefinedPrior(t *testing.T) {
	s := &market.Series{Symbol: "TEST", Bars: make([]market.Bar, 2)}
	set := indicator.Set{
		"fast": {Name: "fast", Values: []float64{math.NaN(), 3}},
		"slow": {Name: "slow", Values: []float64{2, 2}},
	}
	sp := &Spec{Rule: &Rule{Left: Operand{Indicator: "fast"}, Op: OpCrossAbove, Right: Operand{Indicator: "slow"}}}
	if ok, err := Evaluate(sp, s, set, 1); err != nil || ok {
		t.Fatalf("cross with NaN prior = %v, %v; want false, nil", ok, err)
	}
}

func TestEvaluateUndefinedIsFalse(t *testing.T) {
	s := oneBar(10, 12)
	set := indicator.Set{"x": {Name: "x", Values: []float64{math.NaN()}}}
	sp := &Spec{Rule: &Rule{Left: Operand{Indicator: "x"}, Op: OpGT, Right: Operand{Value: fptr(0)}}}
	if ok, err := Evaluate(sp, s, set, 0); err != nil || ok {
		t.Fatalf("gt on NaN = %v, %v; want false, nil", ok, err)
	}
}

func TestEvaluateUnknownIndicator(t *testing.T) {
	s := oneBar(10, 12)
	set := indicator.Set{}

	sp := &Spec{Rule: &Rule{Left: Operand{Indicator: "ghost"}, Op: OpGT, Right: Operand{Value: fptr(0)}}}
	if _, err := Evaluate(sp, s, set, 0); !errors.Is(err, ErrUnknownIndicator) {
		t.Fatalf("err = %v, want ErrUnknownIndicator", err)
	}

	// Index 0 short-circuits the cross, but a bad reference still surfaces.
	cross := &Spec{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpCrossAbove, Right: Operand{Indicator: "ghost"}}}
	if _, err := Evaluate(cross, s, set, 0); !errors.Is(err, ErrUnknownIndicator) {
		t.Fatalf("cross err = %v, want ErrUnknownIndicator", err)
	}
}

func TestEvaluateCombinators(t *testing.T) {
	s := oneBar(10, 12)
	set := indicator.Set{}
	yes := &Spec{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpGT, Right: Operand{Value: fptr(0)}}}
	no := &Spec{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpLT, Right: Operand{Value: fptr(0)}}}

	cases := []struct {
		name string
		sp   *Spec
		want bool
	}{
		{"all true", &Spec{All: []*Spec{yes, yes}}, true},
		{"all mixed", &Spec{All: []*Spec{yes, no}}, false},
		{"any mixed", &Spec{Any: []*Spec{no, yes}}, true},
		{"any false", &Spec{Any: []*Spec{no, no}}, false},
		{"not", &Spec{Not: no}, true},
	}
	for _, c := range cases {
		ok, err := Evaluate(c.sp, s, set, 0)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if ok != c.want {
			t.Fatalf("%s = %v, want %v", c.name, ok, c.want)
		}
	}
}

func TestValidateShape(t *testing.T) {
	yes := &Spec{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpGT, Right: Operand{Value: fptr(0)}}}
	if err := yes.Validate(); err != nil {
		t.Fatalf("valid leaf rejected: %v", err)
	}

	bad := []*Spec{
		{}, // empty node
		{Rule: yes.Rule, Not: yes},                                                               // two variants set
		{Rule: &Rule{Left: Operand{}, Op: OpGT, Right: Operand{Value: fptr(0)}}},                 // empty operand
		{Rule: &Rule{Left: Operand{Field: "close", Value: fptr(1)}, Op: OpGT, Right: Operand{Field: "open"}}}, // two-sided operand
		{Rule: &Rule{Left: Operand{Field: "close"}, Op: OpWithin, Min: fptr(1)}},                 // within missing max
		{Rule: &Rule{Left: Operand{Field: "close"}, Op: "ge", Right: Operand{Value: fptr(0)}}},   // unknown op
		{All: []*Spec{{}}}, // invalid child
	}
	for i, sp := range bad {
		if err := sp.Validate(); err == nil {
			t.Fatalf("bad spec %d validated", i)
		}
	}
}

func TestIndicatorsSortedDeduped(t *testing.T) {
	sp := &Spec{All: []*Spec{
		{Rule: &Rule{Left: Operand{Indicator: "zeta"}, Op: OpGT, Right: Operand{Indicator: "alpha"}}},
		{Not: &Spec{Rule: &Rule{Left: Operand{Indicator: "alpha"}, Op: OpLT, Right: Operand{Value: fptr(0)}}}},
	}}
	got := sp.Indicators()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("Indicators() = %v", got)
	}
}

func TestSnapshotOmitsUndefined(t *testing.T) {
	sp := &Spec{All: []*Spec{
		{Rule: &Rule{Left: Operand{Indicator: "a"}, Op: OpGT, Right: Operand{Indicator: "b"}}},
	}}
	set := indicator.Set{
		"a": {Name: "a", Values: []float64{1.5}},
		"b": {Name: "b", Values: []float64{math.NaN()}},
	}
	snap := sp.Snapshot(set, 0)
	if len(snap) != 1 || snap["a"] != 1.5 {
		t.Fatalf("Snapshot = %v", snap)
	}
}
