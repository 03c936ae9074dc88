package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	j *Journal
	n int
}

func (c *counter) set(v int) {
	old := c.n
	c.j.Append(func() { c.n = old })
	c.n = v
}

func TestAppendOutsideSnapshotIsDropped(t *testing.T) {
	c := &counter{j: New()}
	c.set(5)
	assert.Empty(t, c.j.entries)
	assert.Equal(t, 5, c.n)
}

func TestRevertRestoresInReverseOrder(t *testing.T) {
	c := &counter{j: New()}
	id := c.j.Snapshot()
	c.set(1)
	c.set(2)
	c.set(3)
	c.j.RevertToSnapshot(id)
	assert.Equal(t, 0, c.n)
	assert.False(t, c.j.Active())
}

func TestNestedDiscardThenOuterRevert(t *testing.T) {
	c := &counter{j: New()}
	outer := c.j.Snapshot()
	c.set(1)
	inner := c.j.Snapshot()
	c.set(2)
	c.j.DiscardSnapshot(inner)
	require.True(t, c.j.Active())
	assert.Equal(t, 2, c.n)

	c.j.RevertToSnapshot(outer)
	assert.Equal(t, 0, c.n)
}

func TestAtomic(t *testing.T) {
	c := &counter{j: New()}

	err := c.j.Atomic(func() error {
		c.set(7)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.n)

	require.NoError(t, c.j.Atomic(func() error {
		c.set(9)
		return nil
	}))
	assert.Equal(t, 9, c.n)
	assert.Empty(t, c.j.entries)
}
