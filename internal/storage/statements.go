package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

const insertBatchSize = 200

// EnsureUser returns the user with the given name, creating it if needed.
func (s *Store) EnsureUser(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	var u models.User
	if err := s.conn(ctx).Where(models.User{Username: username}).FirstOrCreate(&u).Error; err != nil {
		return nil, fmt.Errorf("failed to ensure user %q: %w", username, err)
	}
	return &u, nil
}

// UserByName looks a user up by username.
func (s *Store) UserByName(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.conn(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %q: %w", username, err)
	}
	return &u, nil
}

// Users lists every user by ID.
func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.conn(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	if err := s.conn(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) Account(ctx context.Context, id uint) (*models.Account, error) {
	var a models.Account
	if err := s.conn(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "account", id)
	}
	return &a, nil
}

// StatementExists reports whether the account already has a statement with
// this original filename.
func (s *Store) StatementExists(ctx context.Context, accountID uint, filename string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Statement{}).
		Where("account_id = ? AND original_filename = ?", accountID, filename).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate upload: %w", err)
	}
	return n > 0, nil
}

// CreateStatement validates and inserts a statement.
func (s *Store) CreateStatement(ctx context.Context, st *models.Statement) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.UploadedAt.IsZero() {
		st.UploadedAt = time.Now().UTC()
	}
	if err := s.conn(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}
	return nil
}

func (s *Store) Statement(ctx context.Context, id uint) (*models.Statement, error) {
	var st models.Statement
	if err := s.conn(ctx).First(&st, id).Error; err != nil {
		return nil, notFound(err, "statement", id)
	}
	return &st, nil
}

// StatementOwner returns the user that owns a statement through its account.
func (s *Store) StatementOwner(ctx context.Context, statementID uint) (uint, error) {
	st, err := s.Statement(ctx, statementID)
	if err != nil {
		return 0, err
	}
	a, err := s.Account(ctx, st.AccountID)
	if err != nil {
		return 0, err
	}
	return a.UserID, nil
}

func (s *Store) SetRulesApplied(ctx context.Context, statementID uint, applied bool) error {
	err := s.conn(ctx).Model(&models.Statement{}).Where("id = ?", statementID).Update("rules_applied", applied).Error
	if err != nil {
		return fmt.Errorf("failed to update statement %d: %w", statementID, err)
	}
	return nil
}

// MarkRulesApplied flags every statement of the account as classified.
func (s *Store) MarkRulesApplied(ctx context.Context, accountID uint) error {
	err := s.conn(ctx).Model(&models.Statement{}).Where("account_id = ?", accountID).Update("rules_applied", true).Error
	if err != nil {
		return fmt.Errorf("failed to update statements of account %d: %w", accountID, err)
	}
	return nil
}

// CreateTransactions inserts the transactions and fills in their IDs.
func (s *Store) CreateTransactions(ctx context.Context, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		if err := txs[i].Validate(); err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
	}
	if err := s.conn(ctx).CreateInBatches(txs, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	return nil
}

func (s *Store) Transaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.conn(ctx).First(&tx, id).Error; err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return &tx, nil
}

// StatementTransactions returns a statement's transactions by date.
func (s *Store) StatementTransactions(ctx context.Context, statementID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.conn(ctx).Where("statement_id = ?", statementID).Order("date, id").Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions of statement %d: %w", statementID, err)
	}
	return txs, nil
}

// AccountTransactions returns all transactions of an account by date.
func (s *Store) AccountTransactions(ctx context.Context, accountID uint) ([]models.Transaction, error) {
	db := s.conn(ctx)
	statements := db.Model(&models.Statement{}).Select("id").Where("account_id = ?", accountID)
	var txs []models.Transaction
	if err := db.Where("statement_id IN (?)", statements).Order("date, id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to load transactions of account %d: %w", accountID, err)
	}
	return txs, nil
}

// UpdateClassification writes the automatic category and label. Manually
// edited rows are never touched.
func (s *Store) UpdateClassification(ctx context.Context, tx *models.Transaction) error {
	err := s.conn(ctx).Model(&models.Transaction{}).
		Where("id = ? AND is_manually_edited = ?", tx.ID, false).
		Updates(map[string]interface{}{
			"category":           tx.Category,
			"custom_category_id": tx.CustomCategoryID,
			"user_label":         tx.UserLabel,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
	}
	return nil
}

// Edit is a manual change to one transaction. At most one of Category and
// CustomCategory may be set; Label may be set on its own.
type Edit struct {
	Category       models.Category
	CustomCategory string
	Label          *string
	Editor         string
}

// EditTransaction applies a manual edit. The transaction is marked as
// manually edited and automatic classification will leave it alone.
func (s *Store) EditTransaction(ctx context.Context, id uint, e Edit) (*models.Transaction, error) {
	if e.Category != "" && e.CustomCategory != "" {
		return nil, errors.New("set either a standard or a custom category, not both")
	}
	if e.Category != "" && !e.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q", e.Category)
	}
	if strings.TrimSpace(e.Editor) == "" {
		return nil, errors.New("editor is required")
	}

	var out *models.Transaction
	err := s.WithinTx(ctx, func(st *Store) error {
		tx, err := st.Transaction(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case e.Category != "":
			tx.Category = e.Category
			tx.CustomCategoryID = nil
		case e.CustomCategory != "":
			owner, err := st.StatementOwner(ctx, tx.StatementID)
			if err != nil {
				return err
			}
			cat, err := st.CustomCategoryByName(ctx, owner, e.CustomCategory)
			if err != nil {
				return err
			}
			tx.CustomCategoryID = &cat.ID
			tx.Category = models.CategoryOther
		}
		if e.Label != nil {
			tx.UserLabel = strings.TrimSpace(*e.Label)
		}
		now := time.Now().UTC()
		editor := strings.TrimSpace(e.Editor)
		tx.IsManuallyEdited = true
		tx.EditedBy = &editor
		tx.LastEditedAt = &now

		err = st.conn(ctx).Model(tx).Select(
			"category", "custom_category_id", "user_label", "is_manually_edited", "edited_by", "last_edited_at",
		).Updates(tx).Error
		if err != nil {
			return fmt.Errorf("failed to save edit: %w", err)
		}
		out = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ManualLabels returns the distinct labels users set by hand, with the
// category each transaction carried.
func (s *Store) ManualLabels(ctx context.Context, userID uint) ([]models.ManualLabel, error) {
	db := s.conn(ctx)
	accounts := db.Model(&models.Account{}).Select("id").Where("user_id = ?", userID)
	statements := db.Model(&models.Statement{}).Select("id").Where("account_id IN (?)", accounts)

	var rows []struct {
		UserLabel        string
		Category         models.Category
		CustomCategoryID *uint
	}
	err := db.Model(&models.Transaction{}).
		Distinct("user_label", "category", "custom_category_id").
		Where("statement_id IN (?) AND is_manually_edited = ? AND user_label <> ''", statements, true).
		Order("user_label").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load manual labels: %w", err)
	}

	labels := make([]models.ManualLabel, 0, len(rows))
	for _, r := range rows {
		ref := models.CategoryRef{Standard: r.Category}
		if r.CustomCategoryID != nil {
			ref = models.CategoryRef{CustomID: *r.CustomCategoryID}
		}
		labels = append(labels, models.ManualLabel{Label: r.UserLabel, Category: ref})
	}
	return labels, nil
}

// SaveSummary inserts or replaces the statement's cached totals.
func (s *Store) SaveSummary(ctx context.Context, sum *models.AnalysisSummary) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "statement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_credits", "total_debits", "net_change", "transaction_count", "computed_at"}),
	}).Create(sum).Error
	if err != nil {
		return fmt.Errorf("failed to save summary for statement %d: %w", sum.StatementID, err)
	}
	return nil
}

func (s *Store) Summary(ctx context.Context, statementID uint) (*models.AnalysisSummary, error) {
	var sum models.AnalysisSummary
	if err := s.conn(ctx).Where("statement_id = ?", statementID).First(&sum).Error; err != nil {
		return nil, notFound(err, "summary for statement", statementID)
	}
	return &sum, nil
}

// DeleteStatement removes a statement with its transactions and summary.
func (s *Store) DeleteStatement(ctx context.Context, id uint) error {
	return s.WithinTx(ctx, func(st *Store) error {
		db := st.conn(ctx)
		if err := db.Where("statement_id = ?", id).Delete(&models.Transaction{}).Error; err != nil {
			return fmt.Errorf("failed to delete transactions: %w", err)
		}
		if err := db.Where("statement_id = ?", id).Delete(&models.AnalysisSummary{}).Error; err != nil {
			return fmt.Errorf("failed to delete summary: %w", err)
		}
		res := db.Delete(&models.Statement{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete statement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("statement %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
