package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLinksPreviousHash(t *testing.T) {
	c := New()

	e1, err := c.Append("coordinator", "submit_enrollment", "enrollment:1", nil, map[string]string{"outcome": "enroll"})
	require.NoError(t, err)
	assert.Equal(t, ZeroHash, e1.PreviousHash)

	e2, err := c.Append("coordinator", "drop_enrollment", "enrollment:1", map[string]string{"outcome": "enroll"}, nil)
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
}

func TestVerifyPassesOnIntactChain(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		_, err := c.Append("coordinator", "submit_enrollment", "enrollment:1", nil, nil)
		require.NoError(t, err)
	}
	assert.NoError(t, c.Verify())
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	c := New()
	_, err := c.Append("coordinator", "submit_enrollment", "enrollment:1", nil, nil)
	require.NoError(t, err)
	_, err = c.Append("coordinator", "drop_enrollment", "enrollment:1", nil, nil)
	require.NoError(t, err)

	c.entries[0].Action = "tampered"

	assert.ErrorIs(t, c.Verify(), ErrChainBroken)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	c := New()
	_, err := c.Append("coordinator", "submit_enrollment", "enrollment:1", nil, nil)
	require.NoError(t, err)
	_, err = c.Append("coordinator", "drop_enrollment", "enrollment:1", nil, nil)
	require.NoError(t, err)

	c.entries[1].PreviousHash = "not-the-real-hash"

	assert.ErrorIs(t, c.Verify(), ErrChainBroken)
}

func TestEntriesReturnsASafeCopy(t *testing.T) {
	c := New()
	_, err := c.Append("coordinator", "submit_enrollment", "enrollment:1", nil, nil)
	require.NoError(t, err)

	entries := c.Entries()
	entries[0].Action = "mutated-local-copy"

	assert.Equal(t, "submit_enrollment", c.entries[0].Action, "mutating a returned snapshot must not affect internal state")
}
