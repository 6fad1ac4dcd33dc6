package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCurrencyIsValid(t *testing.T) {
	assert.True(t, Currency("PLN").IsValid())
	assert.True(t, Currency("EUR").IsValid())
	assert.False(t, Currency("pln").IsValid())
	assert.False(t, Currency("PLNX").IsValid())
	assert.False(t, Currency("").IsValid())
}

func TestPriceKeyEqual(t *testing.T) {
	stable, item := uuid.New(), uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	std := PriceKey{Kind: ItemKindActivity, StableID: stable, ItemID: item}
	ind := PriceKey{Kind: ItemKindActivity, StableID: stable, ItemID: item, ParticipantID: &p1}
	indCopy := PriceKey{Kind: ItemKindActivity, StableID: stable, ItemID: item, ParticipantID: &[]uuid.UUID{p1}[0]}
	other := PriceKey{Kind: ItemKindActivity, StableID: stable, ItemID: item, ParticipantID: &p2}

	assert.True(t, std.Equal(std))
	assert.True(t, ind.Equal(indCopy))
	assert.False(t, std.Equal(ind))
	assert.False(t, ind.Equal(other))
	assert.True(t, ind.Standard().Equal(std))
	assert.False(t, std.IsIndividual())
	assert.True(t, ind.IsIndividual())
}
