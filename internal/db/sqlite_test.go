package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func sampleTxFunc(tx *sql.Tx) (int, error) {
	return 42, nil
}

func sampleTxFuncErr(tx *sql.Tx) (int, error) {
	// Simulate a failure within the transaction.
	return 0, errors.New("simulated error")
}

func TestTxRunner_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx := context.Background()
	result, err := TxRunner(ctx, db, sampleTxFunc)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_FuncError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	// Since the function returns an error, we expect a rollback.
	mock.ExpectRollback()

	ctx := context.Background()
	_, err = TxRunner(ctx, db, sampleTxFuncErr)
	if err == nil {
		t.Error("expected an error from sampleTxFuncErr, got nil")
	}
	if err.Error() != "failed to execute transaction: simulated error" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_CommitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(fmt.Errorf("commit failed"))

	ctx := context.Background()
	_, err = TxRunner(ctx, db, sampleTxFunc)
	if err == nil {
		t.Error("expected commit error, got nil")
	}
	if err.Error() != "failed to commit transaction: commit failed" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_BeginTxError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("begin error"))

	ctx := context.Background()
	_, err = TxRunner(ctx, db, sampleTxFunc)
	if err == nil {
		t.Error("expected error on BeginTx, got nil")
	}
	if err.Error() != "failed to begin transaction: begin error" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
