package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionFor(t *testing.T) {
	assert.Equal(t, 0, PartitionFor("26.14_91.74", 1))
	assert.Equal(t, 0, PartitionFor("26.14_91.74", 0))

	first := PartitionFor("26.14_91.74", 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, PartitionFor("26.14_91.74", 8))
	}

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		p := PartitionFor(fmt.Sprintf("%d.00_91.00", i), 8)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		seen[p] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	err := fmt.Errorf("decode: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
