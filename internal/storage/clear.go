package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// ClearScope selects what ClearData removes.
type ClearScope string

const (
	ClearAll          ClearScope = "all"
	ClearTransactions ClearScope = "transactions"
	ClearStatements   ClearScope = "statements"
	ClearAccounts     ClearScope = "accounts"
)

// ClearOptions narrows a ClearData run. Zero values mean no filter.
// Before compares against the transaction date, the statement upload time
// or the account creation time depending on the scope.
type ClearOptions struct {
	Scope     ClearScope
	Before    *time.Time
	UserID    uint
	AccountID uint
}

// ClearResult counts the deleted rows per table.
type ClearResult struct {
	Transactions int64
	Statements   int64
	Accounts     int64
	Summaries    int64
}

// ClearData deletes statement data in one database transaction. Deleting a
// row always deletes what hangs off it.
func (s *Store) ClearData(ctx context.Context, opts ClearOptions) (*ClearResult, error) {
	res := &ClearResult{}
	err := s.WithinTx(ctx, func(st *Store) error {
		db := st.conn(ctx)
		switch opts.Scope {
		case ClearTransactions:
			return st.clearTransactions(db, opts, res)
		case ClearStatements:
			return st.clearStatements(db, st.statementScope(db, opts), res)
		case ClearAccounts, ClearAll:
			return st.clearAccounts(db, st.accountScope(db, opts), res)
		}
		return fmt.Errorf("unknown clear scope %q", opts.Scope)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteAccount removes an account and everything under it.
func (s *Store) DeleteAccount(ctx context.Context, id uint) error {
	return s.WithinTx(ctx, func(st *Store) error {
		db := st.conn(ctx)
		res := &ClearResult{}
		if err := st.clearAccounts(db, db.Model(&models.Account{}).Select("id").Where("id = ?", id), res); err != nil {
			return err
		}
		if res.Accounts == 0 {
			return fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) accountScope(db *gorm.DB, opts ClearOptions) *gorm.DB {
	q := db.Model(&models.Account{}).Select("id")
	if opts.UserID != 0 {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.AccountID != 0 {
		q = q.Where("id = ?", opts.AccountID)
	}
	if opts.Before != nil && opts.Scope != ClearAll {
		q = q.Where("created_at < ?", *opts.Before)
	}
	return q
}

func (s *Store) statementScope(db *gorm.DB, opts ClearOptions) *gorm.DB {
	q := db.Model(&models.Statement{}).Select("id")
	if opts.AccountID != 0 {
		q = q.Where("account_id = ?", opts.AccountID)
	}
	if opts.UserID != 0 {
		q = q.Where("account_id IN (?)", db.Model(&models.Account{}).Select("id").Where("user_id = ?", opts.UserID))
	}
	if opts.Before != nil && opts.Scope == ClearStatements {
		q = q.Where("uploaded_at < ?", *opts.Before)
	}
	return q
}

// clearTransactions deletes matching transactions. The summaries of the
// touched statements are dropped since they no longer add up.
func (s *Store) clearTransactions(db *gorm.DB, opts ClearOptions, res *ClearResult) error {
	statements := s.statementScope(db, opts)
	q := db.Model(&models.Transaction{}).Where("statement_id IN (?)", statements)
	if opts.Before != nil {
		q = q.Where("date < ?", *opts.Before)
	}

	var touched []uint
	if err := q.Session(&gorm.Session{}).Distinct("statement_id").Pluck("statement_id", &touched).Error; err != nil {
		return fmt.Errorf("failed to find statements to clear: %w", err)
	}

	del := db.Where("statement_id IN (?)", statements)
	if opts.Before != nil {
		del = del.Where("date < ?", *opts.Before)
	}
	r := del.Delete(&models.Transaction{})
	if r.Error != nil {
		return fmt.Errorf("failed to delete transactions: %w", r.Error)
	}
	res.Transactions += r.RowsAffected

	if len(touched) > 0 {
		r = db.Where("statement_id IN ?", touched).Delete(&models.AnalysisSummary{})
		if r.Error != nil {
			return fmt.Errorf("failed to delete summaries: %w", r.Error)
		}
		res.Summaries += r.RowsAffected
	}
	return nil
}

func (s *Store) clearStatements(db *gorm.DB, statements *gorm.DB, res *ClearResult) error {
	var ids []uint
	if err := statements.Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to find statements to clear: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	r := db.Where("statement_id IN ?", ids).Delete(&models.Transaction{})
	if r.Error != nil {
		return fmt.Errorf("failed to delete transactions: %w", r.Error)
	}
	res.Transactions += r.RowsAffected

	r = db.Where("statement_id IN ?", ids).Delete(&models.AnalysisSummary{})
	if r.Error != nil {
		return fmt.Errorf("failed to delete summaries: %w", r.Error)
	}
	res.Summaries += r.RowsAffected

	r = db.Where("id IN ?", ids).Delete(&models.Statement{})
	if r.Error != nil {
		return fmt.Errorf("failed to delete statements: %w", r.Error)
	}
	res.Statements += r.RowsAffected
	return nil
}

func (s *Store) clearAccounts(db *gorm.DB, accounts *gorm.DB, res *ClearResult) error {
	var ids []uint
	if err := accounts.Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to find accounts to clear: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	statements := db.Model(&models.Statement{}).Select("id").Where("account_id IN ?", ids)
	if err := s.clearStatements(db, statements, res); err != nil {
		return err
	}

	r := db.Where("id IN ?", ids).Delete(&models.Account{})
	if r.Error != nil {
		return fmt.Errorf("failed to delete accounts: %w", r.Error)
	}
	res.Accounts += r.RowsAffected
	return nil
}
