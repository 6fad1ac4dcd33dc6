package queue

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

// PartitionOf maps a contact person to a stable partition so that all of its
// jobs are handled by one sequential worker.
func PartitionOf(contactPersonID uuid.UUID, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	return int(xxhash.Sum64(contactPersonID[:]) % uint64(partitions))
}

// Partition splits a claimed batch by contact person, keeping claim order
// inside each partition. Empty partitions are omitted.
func Partition(jobs []domain.DeltaJob, partitions int) [][]domain.DeltaJob {
	if partitions < 1 {
		partitions = 1
	}
	buckets := make([][]domain.DeltaJob, partitions)
	for _, j := range jobs {
		p := PartitionOf(j.Delta.ContactPersonID, partitions)
		buckets[p] = append(buckets[p], j)
	}

	out := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}
