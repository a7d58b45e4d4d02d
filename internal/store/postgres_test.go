package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	query := regexp.QuoteMeta(`
INSERT INTO conversations (id, state, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  updated_at = NOW();
`)
	mock.ExpectExec(query).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Save(context.Background(), "c1", conversation.New("c1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	saved := conversation.New("c1")
	saved.Intent = "refund"
	saved.Pause = &conversation.Pause{Kind: conversation.PauseOrderID, Intent: "refund"}
	raw, _ := json.Marshal(saved)

	query := regexp.QuoteMeta(`SELECT state FROM conversations WHERE id=$1`)
	mock.ExpectQuery(query).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(raw))

	got, err := st.Load(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Intent != "refund" || !got.AwaitingOrderID() {
		t.Fatalf("unexpected state %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM conversations WHERE id=$1`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	got, err := st.Load(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state, got %+v", got)
	}
}

func TestPostgresStoreAppendHistoryTrims(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO conversation_history (conversation_id, role, content, created_at) VALUES ($1,$2,$3,$4)`)).
		WithArgs("c1", "user", "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversation_history`)).
		WithArgs("c1", 20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := st.AppendHistory(context.Background(), "c1", "user", "hello", 20); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT role, content, created_at FROM conversation_history WHERE conversation_id=$1 ORDER BY id ASC`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "content", "created_at"}).
			AddRow("user", "cancel order 7845", now).
			AddRow("assistant", "Are you sure?", now))

	h, err := st.History(context.Background(), "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 2 || h[0].Role != "user" || h[1].Content != "Are you sure?" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestPostgresStoreClear(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversation_history WHERE conversation_id=$1`)).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversations WHERE id=$1`)).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.Clear(context.Background(), "c1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
