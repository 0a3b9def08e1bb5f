package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var messageCols = []string{"id", "thread_id", "sender_id", "body", "dedup_key", "created_at", "read_at"}

func TestInsertMessageNewRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	threadID, senderID := uuid.New(), uuid.New()

	mock.ExpectQuery("INSERT INTO chat_messages").
		WithArgs(pgxmock.AnyArg(), threadID, senderID, "hello", "key-1").
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow(uuid.New(), threadID, senderID, "hello", "key-1", time.Now(), nil))

	msg, created, err := store.InsertMessage(context.Background(), threadID, senderID, "hello", "key-1")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created {
		t.Error("fresh insert reported as conflict")
	}
	if msg.Body != "hello" || msg.DedupKey != "key-1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestInsertMessageConflictReturnsOriginal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	threadID, senderID := uuid.New(), uuid.New()
	originalID := uuid.New()

	// ON CONFLICT DO NOTHING returns no row, then the original is fetched.
	mock.ExpectQuery("INSERT INTO chat_messages").
		WithArgs(pgxmock.AnyArg(), threadID, senderID, "hello", "key-1").
		WillReturnRows(pgxmock.NewRows(messageCols))
	mock.ExpectQuery("SELECT (.+) FROM chat_messages").
		WithArgs(threadID, senderID, "key-1").
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow(originalID, threadID, senderID, "hello", "key-1", time.Now().Add(-time.Minute), nil))

	msg, created, err := store.InsertMessage(context.Background(), threadID, senderID, "hello", "key-1")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created {
		t.Error("replay reported as fresh insert")
	}
	if msg.ID != originalID {
		t.Errorf("msg.ID = %s, want the original row %s", msg.ID, originalID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureThreadConverges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	patientID, clinicianID := uuid.New(), uuid.New()
	threadID := uuid.New()

	mock.ExpectExec("INSERT INTO chat_threads").
		WithArgs(pgxmock.AnyArg(), patientID, clinicianID).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT (.+) FROM chat_threads").
		WithArgs(patientID, clinicianID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "clinician_id", "created_at"}).
			AddRow(threadID, patientID, clinicianID, time.Now()))

	thread, err := store.EnsureThread(context.Background(), patientID, clinicianID)
	if err != nil {
		t.Fatalf("ensure thread: %v", err)
	}
	if thread.ID != threadID {
		t.Errorf("thread.ID = %s, want %s", thread.ID, threadID)
	}
}

func TestIsBlocked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	clinicianID, patientID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT 1 FROM chat_blocks").
		WithArgs(clinicianID, patientID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	blocked, err := store.IsBlocked(context.Background(), clinicianID, patientID)
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Error("no block row but reported blocked")
	}

	mock.ExpectQuery("SELECT 1 FROM chat_blocks").
		WithArgs(clinicianID, patientID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	blocked, err = store.IsBlocked(context.Background(), clinicianID, patientID)
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if !blocked {
		t.Error("block row present but reported unblocked")
	}
}

func TestMarkReadCountsRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	threadID, readerID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE chat_messages").
		WithArgs(threadID, readerID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := store.MarkRead(context.Background(), threadID, readerID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 4 {
		t.Errorf("marked = %d, want 4", n)
	}
}
