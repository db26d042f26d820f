package inbox

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestRecordDeduplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-1", "business.schedule.updated.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-1", "business.schedule.updated.v1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewRepository(mock)
	ctx := context.Background()
	first, err := repo.Record(ctx, "evt-1", "business.schedule.updated.v1")
	if err != nil || !first {
		t.Fatalf("first record: %v %v", first, err)
	}
	second, err := repo.Record(ctx, "evt-1", "business.schedule.updated.v1")
	if err != nil || second {
		t.Fatalf("duplicate should be reported, got %v %v", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
