package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
)

var referenceTables = map[domain.ReferenceKind]string{
	domain.ReferenceStable:        "stables",
	domain.ReferenceActivity:      "activities",
	domain.ReferenceService:       "services",
	domain.ReferenceInstructor:    "instructors",
	domain.ReferenceParticipant:   "participants",
	domain.ReferenceContactPerson: "contact_persons",
}

// Stable bundles the references most tests need around one stable.
type Stable struct {
	StableID      uuid.UUID
	ActivityID    uuid.UUID
	ServiceID     uuid.UUID
	InstructorID  uuid.UUID
	ParticipantID uuid.UUID
	ContactID     uuid.UUID
}

func SeedReference(t *testing.T, db *sql.DB, kind domain.ReferenceKind, name string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(`INSERT INTO `+referenceTables[kind]+` (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		t.Fatalf("seed %s: %v", kind, err)
	}
	return id
}

func SeedStable(t *testing.T, db *sql.DB) Stable {
	t.Helper()

	return Stable{
		StableID:      SeedReference(t, db, domain.ReferenceStable, "Hoof & Mane"),
		ActivityID:    SeedReference(t, db, domain.ReferenceActivity, "Dressage"),
		ServiceID:     SeedReference(t, db, domain.ReferenceService, "Boarding"),
		InstructorID:  SeedReference(t, db, domain.ReferenceInstructor, "Anna Nowak"),
		ParticipantID: SeedReference(t, db, domain.ReferenceParticipant, "Zosia"),
		ContactID:     SeedReference(t, db, domain.ReferenceContactPerson, "Marta Kowalska"),
	}
}

func DeactivateReference(t *testing.T, db *sql.DB, kind domain.ReferenceKind, id uuid.UUID) {
	t.Helper()

	if _, err := db.Exec(`UPDATE `+referenceTables[kind]+` SET is_active = false WHERE id = $1`, id); err != nil {
		t.Fatalf("deactivate %s: %v", kind, err)
	}
}

func SoftDeleteReference(t *testing.T, db *sql.DB, kind domain.ReferenceKind, id uuid.UUID) {
	t.Helper()

	if _, err := db.Exec(`UPDATE `+referenceTables[kind]+` SET deleted_at = now() WHERE id = $1`, id); err != nil {
		t.Fatalf("soft delete %s: %v", kind, err)
	}
}

func SeedScheduleEntry(t *testing.T, db *sql.DB, e *domain.ScheduleEntry) *domain.ScheduleEntry {
	t.Helper()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.IsActive = true
	e.Version = 1
	e.CreatedAt, e.UpdatedAt = now, now

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	if err := repository.NewScheduleEntryRepository(db).Create(context.Background(), tx, e); err != nil {
		t.Fatalf("seed schedule entry: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit schedule entry: %v", err)
	}
	return e
}

// SeedHistory inserts a history interval directly, bypassing the catalog, so
// tests can place price changes in the past.
func SeedHistory(t *testing.T, db *sql.DB, priceListID uuid.UUID, key domain.PriceKey, price string, from time.Time, to *time.Time) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO price_list_history (
			id, price_list_id, kind, stable_id, item_id, instructor_id, participant_id,
			price, currency, is_active, date_from, date_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PLN', true, $9, $10)`,
		uuid.New(), priceListID, key.Kind, key.StableID, key.ItemID, key.InstructorID, key.ParticipantID,
		price, from.Format("2006-01-02"), dateOrNil(to),
	)
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}
}

// ClearHistory removes every interval of a key.
func ClearHistory(t *testing.T, db *sql.DB, key domain.PriceKey) {
	t.Helper()

	_, err := db.Exec(
		`DELETE FROM price_list_history
		WHERE kind = $1 AND stable_id = $2 AND item_id = $3
			AND instructor_id IS NOT DISTINCT FROM $4
			AND participant_id IS NOT DISTINCT FROM $5`,
		key.Kind, key.StableID, key.ItemID, key.InstructorID, key.ParticipantID,
	)
	if err != nil {
		t.Fatalf("clear history: %v", err)
	}
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

// GetBalance returns the stored balance, or zero when no row exists.
func GetBalance(t *testing.T, db *sql.DB, contactPersonID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	err := db.QueryRow(
		`SELECT balance FROM balances WHERE contact_person_id = $1 AND deleted_at IS NULL`, contactPersonID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero
	}
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func CountBalanceEntries(t *testing.T, db *sql.DB, contactPersonID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM balance_entries WHERE contact_person_id = $1`, contactPersonID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count balance entries: %v", err)
	}
	return count
}

func CountDeltaJobs(t *testing.T, db *sql.DB, contactPersonID uuid.UUID, status domain.DeltaJobStatus) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM balance_delta_jobs WHERE contact_person_id = $1 AND status = $2`,
		contactPersonID, status,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count delta jobs: %v", err)
	}
	return count
}
