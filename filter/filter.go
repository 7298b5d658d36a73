// Package filter evaluates composable boolean rule trees over a bar series
// and its computed indicators.
//
// A Spec is a tagged tree: exactly one of Rule, All, Any, Not is set. All
// predicates are pure; evaluation at index i only reads data at index <= i.
// Undefined indicator values (warm-up) make the enclosing rule false rather
// than raising, so filters naturally skip the warm-up prefix. Referencing an
// indicator that was never computed is a configuration error and aborts the
// whole operation.
package filter

import (
	"errors"
	"fmt"
	"sort"

	"tfmr/indicator"
	"tfmr/market"
)

// ErrUnknownIndicator marks a rule referencing an indicator absent from the
// computed set. Fatal: the filter spec and indicator params disagree.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Op is a leaf comparison.
type Op string

const (
	OpGT         Op = "gt"
	OpLT         Op = "lt"
	OpCrossAbove Op = "cross_above"
	OpCrossBelow Op = "cross_below"
	OpWithin     Op = "within"
)

// Operand is one side of a comparison: a named indicator, a raw bar field
// (open/high/low/close/volume), or a constant. Exactly one must be set.
type Operand struct {
	Indicator string   `yaml:"indicator,omitempty" json:"indicator,omitempty"`
	Field     string   `yaml:"field,omitempty" json:"field,omitempty"`
	Value     *float64 `yaml:"value,omitempty" json:"value,omitempty"`
}

func (o Operand) at(s *market.Series, set indicator.Set, i int) (float64, bool, error) {
	switch {
	case o.Indicator != "":
		res, ok := set[o.Indicator]
		if !ok {
			return 0, false, fmt.Errorf("%w: %s", ErrUnknownIndicator, o.Indicator)
		}
		v, defined := res.At(i)
		return v, defined, nil
	case o.Field != "":
		if i < 0 || i >= s.Len() {
			return 0, false, nil
		}
		b := s.Bars[i]
		switch o.Field {
		case "open":
			return b.Open, true, nil
		case "high":
			return b.High, true, nil
		case "low":
			return b.Low, true, nil
		case "close":
			return b.Close, true, nil
		case "volume":
			return b.Volume, true, nil
		default:
			return 0, false, fmt.Errorf("unknown bar field: %s", o.Field)
		}
	case o.Value != nil:
		return *o.Value, true, nil
	default:
		return 0, false, fmt.Errorf("empty operand")
	}
}

func (o Operand) validate() error {
	n := 0
	if o.Indicator != "" {
		n++
	}
	if o.Field != "" {
		n++
	}
	if o.Value != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("operand must set exactly one of indicator, field, value")
	}
	return nil
}

// Rule is a leaf predicate. For OpWithin, Min and Max bound Left and Right is
// ignored; for the other ops, Left is compared against Right.
type Rule struct {
	Name  string   `yaml:"name,omitempty" json:"name,omitempty"`
	Left  Operand  `yaml:"left" json:"left"`
	Op    Op       `yaml:"op" json:"op"`
	Right Operand  `yaml:"right,omitempty" json:"right,omitempty"`
	Min   *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Spec is the composable rule tree. Exactly one field is set per node:
// Rule (leaf), All (AND), Any (OR), or Not.
type Spec struct {
	Rule *Rule   `yaml:"rule,omitempty" json:"rule,omitempty"`
	All  []*Spec `yaml:"all,omitempty" json:"all,omitempty"`
	Any  []*Spec `yaml:"any,omitempty" json:"any,omitempty"`
	Not  *Spec   `yaml:"not,omitempty" json:"not,omitempty"`
}

// Validate checks tree shape and operand well-formedness without needing
// data. Run it once at configuration time.
func (sp *Spec) Validate() error {
	if sp == nil {
		return fmt.Errorf("nil filter spec")
	}
	n := 0
	if sp.Rule != nil {
		n++
	}
	if len(sp.All) > 0 {
		n++
	}
	if len(sp.Any) > 0 {
		n++
	}
	if sp.Not != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("filter node must set exactly one of rule, all, any, not")
	}

	if sp.Rule != nil {
		r := sp.Rule
		if err := r.Left.validate(); err != nil {
			return fmt.Errorf("rule %s: left: %w", r.Name, err)
		}
		switch r.Op {
		case OpGT, OpLT, OpCrossAbove, OpCrossBelow:
			if err := r.Right.validate(); err != nil {
				return fmt.Errorf("rule %s: right: %w", r.Name, err)
			}
		case OpWithin:
			if r.Min == nil || r.Max == nil {
				return fmt.Errorf("rule %s: within requires min and max", r.Name)
			}
		default:
			return fmt.Errorf("rule %s: unknown op %q", r.Name, r.Op)
		}
		return nil
	}
	for _, c := range sp.All {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range sp.Any {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if sp.Not != nil {
		return sp.Not.Validate()
	}
	return nil
}

// Indicators lists every indicator name the tree references, sorted, deduped.
func (sp *Spec) Indicators() []string {
	seen := map[string]bool{}
	sp.collectIndicators(seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (sp *Spec) collectIndicators(seen map[string]bool) {
	if sp == nil {
		return
	}
	if sp.Rule != nil {
		if sp.Rule.Left.Indicator != "" {
			seen[sp.Rule.Left.Indicator] = true
		}
		if sp.Rule.Right.Indicator != "" {
			seen[sp.Rule.Right.Indicator] = true
		}
	}
	for _, c := range sp.All {
		c.collectIndicators(seen)
	}
	for _, c := range sp.Any {
		c.collectIndicators(seen)
	}
	sp.Not.collectIndicators(seen)
}

// Evaluate runs the tree at index i. AND and OR short-circuit; child order
// only matters for speed since predicates are pure. Undefined values yield
// false at the leaf; configuration problems return an error.
func Evaluate(sp *Spec, s *market.Series, set indicator.Set, i int) (bool, error) {
	switch {
	case sp == nil:
		return false, fmt.Errorf("nil filter spec")
	case sp.Rule != nil:
		return evalRule(sp.Rule, s, set, i)
	case len(sp.All) > 0:
		for _, c := range sp.All {
			ok, err := Evaluate(c, s, set, i)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(sp.Any) > 0:
		for _, c := range sp.Any {
			ok, err := Evaluate(c, s, set, i)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case sp.Not != nil:
		ok, err := Evaluate(sp.Not, s, set, i)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("empty filter node")
	}
}

func evalRule(r *Rule, s *market.Series, set indicator.Set, i int) (bool, error) {
	lv, lok, err := r.Left.at(s, set, i)
	if err != nil {
		return false, err
	}

	switch r.Op {
	case OpWithin:
		if !lok {
			return false, nil
		}
		return lv >= *r.Min && lv <= *r.Max, nil
	case OpGT, OpLT:
		rv, rok, err := r.Right.at(s, set, i)
		if err != nil {
			return false, err
		}
		if !lok || !rok {
			return false, nil
		}
		if r.Op == OpGT {
			return lv > rv, nil
		}
		return lv < rv, nil
	case OpCrossAbove, OpCrossBelow:
		// A cross needs the prior sample; index 0 can never cross.
		if i == 0 {
			// still surface unknown-indicator errors on the right side
			if _, _, err := r.Right.at(s, set, i); err != nil {
				return false, err
			}
			return false, nil
		}
		rv, rok, err := r.Right.at(s, set, i)
		if err != nil {
			return false, err
		}
		plv, plok, err := r.Left.at(s, set, i-1)
		if err != nil {
			return false, err
		}
		prv, prok, err := r.Right.at(s, set, i-1)
		if err != nil {
			return false, err
		}
		if !lok || !rok || !plok || !prok {
			return false, nil
		}
		if r.Op == OpCrossAbove {
			return plv <= prv && lv > rv, nil
		}
		return plv >= prv && lv < rv, nil
	default:
		return false, fmt.Errorf("rule %s: unknown op %q", r.Name, r.Op)
	}
}

// Snapshot captures the referenced indicator values at index i, for candidate
// audit trails. Undefined values are omitted.
func (sp *Spec) Snapshot(set indicator.Set, i int) map[string]float64 {
	out := map[string]float64{}
	for _, name := range sp.Indicators() {
		res, ok := set[name]
		if !ok {
			continue
		}
		if v, defined := res.At(i); defined {
			out[name] = v
		}
	}
	return out
}
