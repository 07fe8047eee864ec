package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Conditions are stored flat, one nullable column per variant field, and
// rebuilt into the sealed models.Condition variants on load.

type ruleRow struct {
	ID         uint            `gorm:"primaryKey"`
	UserID     uint            `gorm:"index;not null"`
	Name       string          `gorm:"type:varchar(200);not null"`
	Category   models.Category `gorm:"type:varchar(20);not null"`
	Logic      models.Logic    `gorm:"type:varchar(3);not null;default:AND"`
	Active     bool            `gorm:"not null"`
	Priority   int             `gorm:"not null;default:0"`
	Conditions []conditionRow  `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
}

func (ruleRow) TableName() string { return "rules" }

type customCategoryRow struct {
	ID        uint            `gorm:"primaryKey"`
	UserID    uint            `gorm:"uniqueIndex:idx_custom_category_user_name;not null"`
	Name      string          `gorm:"type:varchar(100);uniqueIndex:idx_custom_category_user_name;not null"`
	Color     string          `gorm:"type:varchar(20)"`
	Icon      string          `gorm:"type:varchar(50)"`
	Active    bool            `gorm:"not null"`
	Rules     []customRuleRow `gorm:"foreignKey:CategoryID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

func (customCategoryRow) TableName() string { return "custom_categories" }

type customRuleRow struct {
	ID         uint           `gorm:"primaryKey"`
	CategoryID uint           `gorm:"index;not null"`
	Name       string         `gorm:"type:varchar(200)"`
	Logic      models.Logic   `gorm:"type:varchar(3);not null;default:AND"`
	Active     bool           `gorm:"not null"`
	Priority   int            `gorm:"not null;default:0"`
	Conditions []conditionRow `gorm:"foreignKey:CustomRuleID;constraint:OnDelete:CASCADE"`
}

func (customRuleRow) TableName() string { return "custom_category_rules" }

type conditionRow struct {
	ID           uint                 `gorm:"primaryKey"`
	RuleID       *uint                `gorm:"index"`
	CustomRuleID *uint                `gorm:"index"`
	Position     int                  `gorm:"not null;default:0"`
	Kind         models.ConditionKind `gorm:"type:varchar(12);not null"`
	Text         string               `gorm:"type:varchar(200)"`
	Mode         models.MatchMode     `gorm:"type:varchar(12)"`
	Op           models.AmountOp      `gorm:"type:varchar(8)"`
	Value        decimal.NullDecimal  `gorm:"type:decimal(14,2)"`
	Value2       decimal.NullDecimal  `gorm:"type:decimal(14,2)"`
	Channel      models.Channel       `gorm:"type:varchar(12)"`
	Start        *time.Time
	End          *time.Time
}

func (conditionRow) TableName() string { return "rule_conditions" }

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func toConditionRows(conds []models.Condition) []conditionRow {
	rows := make([]conditionRow, 0, len(conds))
	for i, c := range conds {
		row := conditionRow{Position: i, Kind: c.Kind()}
		switch v := c.(type) {
		case models.KeywordCondition:
			row.Text, row.Mode = v.Text, v.Mode
		case models.AmountCondition:
			row.Op, row.Value, row.Value2 = v.Op, nullDecimal(v.Value), nullDecimal(v.Value2)
		case models.DateRangeCondition:
			row.Start, row.End = v.Start, v.End
		case models.SourceCondition:
			row.Channel = v.Channel
		}
		rows = append(rows, row)
	}
	return rows
}

func (r conditionRow) toCondition() (models.Condition, error) {
	switch r.Kind {
	case models.KindKeyword:
		return models.KeywordCondition{Text: r.Text, Mode: r.Mode}, nil
	case models.KindAmount:
		return models.AmountCondition{Op: r.Op, Value: decimalPtr(r.Value), Value2: decimalPtr(r.Value2)}, nil
	case models.KindDateRange:
		return models.DateRangeCondition{Start: r.Start, End: r.End}, nil
	case models.KindSource:
		return models.SourceCondition{Channel: r.Channel}, nil
	}
	return nil, fmt.Errorf("condition %d: unknown kind %q", r.ID, r.Kind)
}

func fromConditionRows(rows []conditionRow) []models.Condition {
	conds := make([]models.Condition, 0, len(rows))
	for _, r := range rows {
		// Unknown kinds are kept as nil entries, which never match.
		c, err := r.toCondition()
		if err != nil {
			conds = append(conds, nil)
			continue
		}
		conds = append(conds, c)
	}
	return conds
}

func (r ruleRow) toModel() models.Rule {
	return models.Rule{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Category:   r.Category,
		Logic:      r.Logic,
		Active:     r.Active,
		Priority:   r.Priority,
		Conditions: fromConditionRows(r.Conditions),
		CreatedAt:  r.CreatedAt,
	}
}

func newRuleRow(r models.Rule) ruleRow {
	return ruleRow{
		UserID:     r.UserID,
		Name:       r.Name,
		Category:   r.Category,
		Logic:      r.Logic,
		Active:     r.Active,
		Priority:   r.Priority,
		Conditions: toConditionRows(r.Conditions),
	}
}

func (c customCategoryRow) toModel() models.CustomCategory {
	cat := models.CustomCategory{
		ID:        c.ID,
		UserID:    c.UserID,
		Name:      c.Name,
		Color:     c.Color,
		Icon:      c.Icon,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
	for _, r := range c.Rules {
		cat.Rules = append(cat.Rules, models.CustomRule{
			ID:         r.ID,
			CategoryID: r.CategoryID,
			Name:       r.Name,
			Logic:      r.Logic,
			Active:     r.Active,
			Priority:   r.Priority,
			Conditions: fromConditionRows(r.Conditions),
		})
	}
	return cat
}

func newCustomCategoryRow(c models.CustomCategory) customCategoryRow {
	row := customCategoryRow{
		UserID: c.UserID,
		Name:   c.Name,
		Color:  c.Color,
		Icon:   c.Icon,
		Active: c.Active,
	}
	for _, r := range c.Rules {
		row.Rules = append(row.Rules, customRuleRow{
			Name:       r.Name,
			Logic:      r.Logic,
			Active:     r.Active,
			Priority:   r.Priority,
			Conditions: toConditionRows(r.Conditions),
		})
	}
	return row
}
