package users

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

func TestSignupAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository(), bcrypt.MinCost)
	ctx := context.Background()

	u, err := svc.Signup(ctx, " Alex@Example.com ", "correct-horse", "Alex")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.Email != "alex@example.com" || u.ID == "" || u.PasswordHash == "correct-horse" {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, err := svc.Signup(ctx, "alex@example.com", "another-pass", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := svc.Authenticate(ctx, "ALEX@example.com", "correct-horse")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate: %v %+v", err, got)
	}
	if _, err := svc.Authenticate(ctx, "alex@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must look like a bad password, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), bcrypt.MinCost)
	if _, err := svc.Signup(context.Background(), "not-an-email", "longenough", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatal("expected invalid email error")
	}
	if _, err := svc.Signup(context.Background(), "a@example.com", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatal("expected short password error")
	}
}

func TestPostgresCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash, full_name) VALUES ($1,$2,$3) RETURNING id, created_at`)).
		WithArgs("alex@example.com", "hash", "Alex").
		WillReturnError(&pq.Error{Code: "23505"})
	if _, err := NewPostgresRepository(db).Create(context.Background(), "alex@example.com", "hash", "Alex"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, password_hash, full_name, created_at FROM users WHERE email=$1`)).
		WithArgs("alex@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "created_at"}).
			AddRow("u1", "alex@example.com", "hash", nil, created))
	u, err := NewPostgresRepository(db).GetByEmail(context.Background(), "alex@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u.ID != "u1" || u.FullName != "" || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user %+v", u)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("none@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "created_at"}))
	if _, err := NewPostgresRepository(db).GetByEmail(context.Background(), "none@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
