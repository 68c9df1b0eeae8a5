package astra

import (
	"context"
	"database/sql"
)

// TransactionManager used by SQLStore to run a group of statements atomically.
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err Error)
	Commit(tx interface{}) Error
	Rollback(tx interface{}) Error
}

// DefaultTxManager default TransactionManager implementation
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, Error) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewError(ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) Error {
	tx1 := tx.(*sql.Tx)
	err := tx1.Commit()
	if err != nil {
		return NewError(ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) Error {
	tx1 := tx.(*sql.Tx)
	err := tx1.Rollback()
	if err != nil {
		return NewError(ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}
