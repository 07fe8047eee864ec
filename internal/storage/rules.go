package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

func orderConditions(db *gorm.DB) *gorm.DB {
	return db.Order("position, id")
}

// CreateRule validates and stores a rule with its conditions.
func (s *Store) CreateRule(ctx context.Context, r *models.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	row := newRuleRow(*r)
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create rule %q: %w", r.Name, err)
	}
	r.ID, r.CreatedAt = row.ID, row.CreatedAt
	return nil
}

// Rules returns all of a user's rules, active or not.
func (s *Store) Rules(ctx context.Context, userID uint) ([]models.Rule, error) {
	return s.loadRules(ctx, s.conn(ctx).Where("user_id = ?", userID))
}

// ActiveRules returns the user's active rules.
func (s *Store) ActiveRules(ctx context.Context, userID uint) ([]models.Rule, error) {
	return s.loadRules(ctx, s.conn(ctx).Where("user_id = ? AND active = ?", userID, true))
}

func (s *Store) loadRules(ctx context.Context, q *gorm.DB) ([]models.Rule, error) {
	var rows []ruleRow
	if err := q.Preload("Conditions", orderConditions).Order("priority, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	out := make([]models.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// SeedRules stores the rules the user does not already have, matched by
// name. It returns how many were created.
func (s *Store) SeedRules(ctx context.Context, userID uint, rules []models.Rule) (int, error) {
	created := 0
	err := s.WithinTx(ctx, func(st *Store) error {
		var names []string
		if err := st.conn(ctx).Model(&ruleRow{}).Where("user_id = ?", userID).Pluck("name", &names).Error; err != nil {
			return fmt.Errorf("failed to load rule names: %w", err)
		}
		existing := make(map[string]bool, len(names))
		for _, n := range names {
			existing[strings.ToLower(n)] = true
		}
		for _, r := range rules {
			if existing[strings.ToLower(r.Name)] {
				continue
			}
			r.UserID = userID
			if err := st.CreateRule(ctx, &r); err != nil {
				return err
			}
			existing[strings.ToLower(r.Name)] = true
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// CreateCustomCategory validates and stores a custom category with its rules.
func (s *Store) CreateCustomCategory(ctx context.Context, c *models.CustomCategory) error {
	if err := c.Validate(); err != nil {
		return err
	}
	row := newCustomCategoryRow(*c)
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create custom category %q: %w", c.Name, err)
	}
	*c = row.toModel()
	return nil
}

// AddCustomRule attaches a rule to an existing custom category.
func (s *Store) AddCustomRule(ctx context.Context, categoryID uint, r *models.CustomRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	row := customRuleRow{
		CategoryID: categoryID,
		Name:       r.Name,
		Logic:      r.Logic,
		Active:     r.Active,
		Priority:   r.Priority,
		Conditions: toConditionRows(r.Conditions),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to add rule to custom category %d: %w", categoryID, err)
	}
	r.ID, r.CategoryID = row.ID, categoryID
	return nil
}

// ActiveCustomCategories returns the user's active custom categories with
// all their rules. Inactive rules are filtered by the engine.
func (s *Store) ActiveCustomCategories(ctx context.Context, userID uint) ([]models.CustomCategory, error) {
	var rows []customCategoryRow
	err := s.conn(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("priority, id") }).
		Preload("Rules.Conditions", orderConditions).
		Where("user_id = ? AND active = ?", userID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load custom categories: %w", err)
	}
	out := make([]models.CustomCategory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CustomCategoryByName finds one of the user's custom categories by name,
// ignoring case.
func (s *Store) CustomCategoryByName(ctx context.Context, userID uint, name string) (*models.CustomCategory, error) {
	var row customCategoryRow
	err := s.conn(ctx).
		Where("user_id = ? AND LOWER(name) = ?", userID, strings.ToLower(strings.TrimSpace(name))).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("custom category %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load custom category %q: %w", name, err)
	}
	c := row.toModel()
	return &c, nil
}

// ActivateCustomRules turns on every inactive custom-category rule and
// returns how many changed.
func (s *Store) ActivateCustomRules(ctx context.Context) (int64, error) {
	res := s.conn(ctx).Model(&customRuleRow{}).Where("active = ?", false).Update("active", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to activate custom rules: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CustomCategoryNames maps every custom category of the user, active or
// not, to its name.
func (s *Store) CustomCategoryNames(ctx context.Context, userID uint) (map[uint]string, error) {
	var rows []customCategoryRow
	if err := s.conn(ctx).Select("id", "name").Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load custom category names: %w", err)
	}
	names := make(map[uint]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}
