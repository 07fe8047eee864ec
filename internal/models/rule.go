package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrConditionIllFormed is returned by Validate when a condition is missing
// its required fields or carries inconsistent values.
var ErrConditionIllFormed = errors.New("condition is ill-formed")

// Logic is how a rule combines its conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Valid reports whether l is AND or OR.
func (l Logic) Valid() bool {
	return l == LogicAnd || l == LogicOr
}

// ConditionKind tags a Condition variant.
type ConditionKind string

const (
	KindKeyword   ConditionKind = "KEYWORD"
	KindAmount    ConditionKind = "AMOUNT"
	KindDateRange ConditionKind = "DATE_RANGE"
	KindSource    ConditionKind = "SOURCE"
)

// Condition is a single rule predicate. The set of variants is closed:
// KeywordCondition, AmountCondition, DateRangeCondition and SourceCondition.
type Condition interface {
	Kind() ConditionKind
	Validate() error
	isCondition()
}

// MatchMode is how a keyword is compared against a field.
type MatchMode string

const (
	MatchContains   MatchMode = "CONTAINS"
	MatchStartsWith MatchMode = "STARTS_WITH"
	MatchEndsWith   MatchMode = "ENDS_WITH"
	MatchExact      MatchMode = "EXACT"
)

// KeywordCondition matches text against description, category and user label.
type KeywordCondition struct {
	Text string
	Mode MatchMode
}

func (KeywordCondition) Kind() ConditionKind { return KindKeyword }
func (KeywordCondition) isCondition()        {}

func (c KeywordCondition) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: keyword text is empty", ErrConditionIllFormed)
	}
	switch c.Mode {
	case MatchContains, MatchStartsWith, MatchEndsWith, MatchExact:
		return nil
	}
	return fmt.Errorf("%w: unknown match mode %q", ErrConditionIllFormed, c.Mode)
}

// AmountOp is an amount comparison operator.
type AmountOp string

const (
	OpEQ      AmountOp = "EQ"
	OpLT      AmountOp = "LT"
	OpLE      AmountOp = "LE"
	OpGT      AmountOp = "GT"
	OpGE      AmountOp = "GE"
	OpBetween AmountOp = "BETWEEN"
)

// AmountCondition compares the transaction amount. Value2 is used only by
// BETWEEN. Nil values make the condition ill-formed.
type AmountCondition struct {
	Op     AmountOp
	Value  *decimal.Decimal
	Value2 *decimal.Decimal
}

func (AmountCondition) Kind() ConditionKind { return KindAmount }
func (AmountCondition) isCondition()        {}

func (c AmountCondition) Validate() error {
	if c.Value == nil {
		return fmt.Errorf("%w: amount value is required", ErrConditionIllFormed)
	}
	switch c.Op {
	case OpEQ, OpLT, OpLE, OpGT, OpGE:
		return nil
	case OpBetween:
		if c.Value2 == nil {
			return fmt.Errorf("%w: BETWEEN requires a second value", ErrConditionIllFormed)
		}
		if c.Value.GreaterThan(*c.Value2) {
			return fmt.Errorf("%w: BETWEEN lower bound %s exceeds upper bound %s",
				ErrConditionIllFormed, c.Value.String(), c.Value2.String())
		}
		return nil
	}
	return fmt.Errorf("%w: unknown amount operator %q", ErrConditionIllFormed, c.Op)
}

// DateRangeCondition matches dates inside an inclusive interval. A missing
// bound leaves that side open.
type DateRangeCondition struct {
	Start *time.Time
	End   *time.Time
}

func (DateRangeCondition) Kind() ConditionKind { return KindDateRange }
func (DateRangeCondition) isCondition()        {}

func (c DateRangeCondition) Validate() error {
	if c.Start == nil && c.End == nil {
		return fmt.Errorf("%w: date range needs at least one bound", ErrConditionIllFormed)
	}
	if c.Start != nil && c.End != nil && c.End.Before(*c.Start) {
		return fmt.Errorf("%w: date range ends before it starts", ErrConditionIllFormed)
	}
	return nil
}

// SourceCondition matches the payment channel named in the description.
type SourceCondition struct {
	Channel Channel
}

func (SourceCondition) Kind() ConditionKind { return KindSource }
func (SourceCondition) isCondition()        {}

func (c SourceCondition) Validate() error {
	if !c.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrConditionIllFormed, c.Channel)
	}
	return nil
}

// Rule maps matching transactions to a standard category.
type Rule struct {
	ID         uint
	UserID     uint
	Name       string
	Category   Category
	Logic      Logic
	Active     bool
	Priority   int
	Conditions []Condition
	CreatedAt  time.Time
}

// Validate checks the rule and each of its conditions.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name is required")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("rule %q: unknown category %q", r.Name, r.Category)
	}
	if !r.Logic.Valid() {
		return fmt.Errorf("rule %q: unknown logic %q", r.Name, r.Logic)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %q condition %d: %w", r.Name, i+1, err)
		}
	}
	return nil
}

// CustomCategory is a user-defined category with its own rule set.
type CustomCategory struct {
	ID        uint
	UserID    uint
	Name      string
	Color     string
	Icon      string
	Active    bool
	Rules     []CustomRule
	CreatedAt time.Time
}

// Ref returns a CategoryRef for the category.
func (c CustomCategory) Ref() CategoryRef {
	return CategoryRef{CustomID: c.ID, CustomName: c.Name}
}

// Validate checks the category and its rules.
func (c CustomCategory) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("custom category name is required")
	}
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("custom category %q: %w", c.Name, err)
		}
	}
	return nil
}

// CustomRule is a rule attached to a custom category. Source conditions
// are not allowed.
type CustomRule struct {
	ID         uint
	CategoryID uint
	Name       string
	Logic      Logic
	Active     bool
	Priority   int
	Conditions []Condition
}

func (r CustomRule) Validate() error {
	if !r.Logic.Valid() {
		return fmt.Errorf("rule %q: unknown logic %q", r.Name, r.Logic)
	}
	for i, c := range r.Conditions {
		if c.Kind() == KindSource {
			return fmt.Errorf("rule %q condition %d: %w: source conditions are not supported on custom categories",
				r.Name, i+1, ErrConditionIllFormed)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %q condition %d: %w", r.Name, i+1, err)
		}
	}
	return nil
}
