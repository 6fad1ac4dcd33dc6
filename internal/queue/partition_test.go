package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

func TestPartitionOf_IsStable(t *testing.T) {
	cp := uuid.New()
	first := PartitionOf(cp, 8)
	for range 10 {
		assert.Equal(t, first, PartitionOf(cp, 8))
	}
	assert.Equal(t, 0, PartitionOf(cp, 1))
	assert.Equal(t, 0, PartitionOf(cp, 0))
}

func TestPartition_GroupsByContactPersonInOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	mk := func(cp uuid.UUID, v int64) domain.DeltaJob {
		return *newJob(domain.BalanceDelta{ContactPersonID: cp, Value: decimal.NewFromInt(v)}, time.Now())
	}
	jobs := []domain.DeltaJob{mk(a, 1), mk(b, 2), mk(a, 3), mk(b, 4), mk(a, 5)}

	parts := Partition(jobs, 4)
	total := 0
	for _, p := range parts {
		require.NotEmpty(t, p)
		total += len(p)

		var lastA, lastB int64
		for _, j := range p {
			v := j.Delta.Value.IntPart()
			switch j.Delta.ContactPersonID {
			case a:
				assert.Greater(t, v, lastA)
				lastA = v
			case b:
				assert.Greater(t, v, lastB)
				lastB = v
			}
		}
	}
	assert.Equal(t, len(jobs), total)

	single := Partition(jobs, 1)
	require.Len(t, single, 1)
	assert.Equal(t, jobs, single[0])
}
