package catalog_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/horse-sheet/internal/catalog"
	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
	"github.com/josh-kwaku/horse-sheet/internal/testutil"
)

type movableClock struct{ now time.Time }

func (c *movableClock) Now() time.Time { return c.now }

func setupCatalog(t *testing.T, db *sql.DB, clock pricing.Clock) *catalog.Service {
	t.Helper()
	return catalog.NewService(
		db,
		repository.NewReferenceRepository(db),
		repository.NewPriceListRepository(db),
		repository.NewPriceHistoryRepository(db),
		clock,
	)
}

func standardKey(s testutil.Stable) domain.PriceKey {
	return domain.PriceKey{Kind: domain.ItemKindActivity, StableID: s.StableID, ItemID: s.ActivityID}
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreate_OpensHistoryInterval(t *testing.T) {
	db := testutil.SetupTestDB(t)
	clock := &movableClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	svc := setupCatalog(t, db, clock)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCurrency, entry.Currency)
	assert.Equal(t, int64(1), entry.Version)

	intervals, cov, err := svc.History(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), intervals[0].DateFrom)
	assert.Nil(t, intervals[0].DateTo)
	assert.True(t, cov.Contiguous())
}

func TestUpdate_PriceChangeMovesHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	clock := &movableClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	svc := setupCatalog(t, db, clock)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	clock.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newPrice := mustDecimal("120")
	updated, err := svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version, Price: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	intervals, cov, err := svc.History(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.True(t, mustDecimal("120").Equal(intervals[0].Price))
	assert.Nil(t, intervals[0].DateTo)
	require.NotNil(t, intervals[1].DateTo)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *intervals[1].DateTo)
	assert.True(t, cov.Contiguous())
	assert.Equal(t, 1, cov.Open)
}

func TestUpdate_CurrencyOnlyLeavesHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	eur := domain.Currency("EUR")
	_, err = svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version, Currency: &eur})
	require.NoError(t, err)

	intervals, _, err := svc.History(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}

func TestUpdate_StaleVersionWritesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	newPrice := mustDecimal("150")
	_, err = svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version + 5, Price: &newPrice})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, mustDecimal("100").Equal(stored.Price))

	intervals, _, err := svc.History(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}

func TestUpdate_KeyIsImmutable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	moved := standardKey(s)
	moved.ItemID = uuid.New()
	_, err = svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version, Key: &moved})
	require.ErrorIs(t, err, domain.ErrImmutableKey)

	same := standardKey(s)
	_, err = svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version, Key: &same})
	require.NoError(t, err)
}

func TestCreate_ReferenceChecks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	missing := standardKey(s)
	missing.ItemID = uuid.New()
	_, err := svc.Create(ctx, catalog.CreateRequest{Key: missing, Price: mustDecimal("10"), IsActive: true})
	require.ErrorIs(t, err, domain.ErrNotFound)

	testutil.DeactivateReference(t, db, domain.ReferenceInstructor, s.InstructorID)
	individual := domain.PriceKey{
		Kind: domain.ItemKindActivity, StableID: s.StableID, ItemID: s.ActivityID,
		InstructorID: &s.InstructorID, ParticipantID: &s.ParticipantID,
	}
	_, err = svc.Create(ctx, catalog.CreateRequest{Key: individual, Price: mustDecimal("80"), IsActive: true})
	require.ErrorIs(t, err, domain.ErrInvalidReference)

	testutil.SoftDeleteReference(t, db, domain.ReferenceStable, s.StableID)
	_, err = svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("10"), IsActive: true})
	require.ErrorIs(t, err, domain.ErrInvalidReference)
}

func TestCreate_SecondActiveStandardRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	_, err = svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("110"), IsActive: true})
	require.ErrorIs(t, err, domain.ErrPriceListExists)
}

func TestDelete_ClosesOpenInterval(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCatalog(t, db, pricing.SystemClock{})
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, entry.ID, entry.Version))

	_, err = svc.Get(ctx, entry.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	intervals, err := repository.NewPriceHistoryRepository(db).ListByKey(ctx, standardKey(s))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.NotNil(t, intervals[0].DateTo)

	// The key can be priced again after deletion.
	_, err = svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("90"), IsActive: true})
	require.NoError(t, err)
}

func TestResolver_HistoricalPriceChange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()
	clock := &movableClock{now: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)}
	svc := setupCatalog(t, db, clock)

	entry, err := svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	clock.now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	newPrice := mustDecimal("120")
	_, err = svc.Update(ctx, catalog.UpdateRequest{ID: entry.ID, Version: entry.Version, Price: &newPrice})
	require.NoError(t, err)

	clock.now = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	resolver := pricing.NewResolver(repository.NewPriceListRepository(db), repository.NewPriceHistoryRepository(db), clock)

	lesson := func(on time.Time) *domain.ScheduleEntry {
		return testutil.SeedScheduleEntry(t, db, &domain.ScheduleEntry{
			Kind:            domain.ItemKindActivity,
			StableID:        s.StableID,
			ItemID:          s.ActivityID,
			InstructorID:    &s.InstructorID,
			Date:            on,
			DurationMinutes: 60,
			ParticipantIDs:  []uuid.UUID{s.ParticipantID},
		})
	}

	feb, err := resolver.ResolvePrice(ctx, lesson(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)), s.ParticipantID)
	require.NoError(t, err)
	assert.True(t, mustDecimal("100").Equal(feb), "got %s", feb)

	mar, err := resolver.ResolvePrice(ctx, lesson(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)), s.ParticipantID)
	require.NoError(t, err)
	assert.True(t, mustDecimal("120").Equal(mar), "got %s", mar)
}

func TestResolver_IndividualOverStandard(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()
	svc := setupCatalog(t, db, pricing.SystemClock{})
	other := testutil.SeedReference(t, db, domain.ReferenceParticipant, "Kuba")

	_, err := svc.Create(ctx, catalog.CreateRequest{
		Key: domain.PriceKey{
			Kind: domain.ItemKindActivity, StableID: s.StableID, ItemID: s.ActivityID,
			InstructorID: &s.InstructorID, ParticipantID: &s.ParticipantID,
		},
		Price:    mustDecimal("80"),
		IsActive: true,
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, catalog.CreateRequest{Key: standardKey(s), Price: mustDecimal("100"), IsActive: true})
	require.NoError(t, err)

	resolver := pricing.NewResolver(repository.NewPriceListRepository(db), repository.NewPriceHistoryRepository(db), nil)
	lesson := testutil.SeedScheduleEntry(t, db, &domain.ScheduleEntry{
		Kind:            domain.ItemKindActivity,
		StableID:        s.StableID,
		ItemID:          s.ActivityID,
		InstructorID:    &s.InstructorID,
		Date:            time.Now().UTC().AddDate(0, 0, 7),
		DurationMinutes: 90,
		ParticipantIDs:  []uuid.UUID{s.ParticipantID, other},
	})

	mine, err := resolver.ResolvePrice(ctx, lesson, s.ParticipantID)
	require.NoError(t, err)
	assert.True(t, mustDecimal("120").Equal(mine), "got %s", mine)

	theirs, err := resolver.ResolvePrice(ctx, lesson, other)
	require.NoError(t, err)
	assert.True(t, mustDecimal("150").Equal(theirs), "got %s", theirs)
}
