package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodes(t *testing.T) {
	s, err := ParseStatus("forwarded")
	require.NoError(t, err)
	assert.Equal(t, StatusForwarded, s)

	s, err = ParseStatus("13")
	require.NoError(t, err)
	assert.Equal(t, StatusDisposed, s)

	_, err = ParseStatus("99")
	assert.ErrorIs(t, err, ErrUnknownCode)

	a, err := ParseAction("DISPOSE")
	require.NoError(t, err)
	assert.Equal(t, ActionDispose, a)

	_, err = ParseAction("LAUNCH")
	assert.ErrorIs(t, err, ErrUnknownCode)

	for _, s := range Statuses() {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, a := range ActionCodes() {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
		assert.NotZero(t, a.Movement(), a.String())
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[StatusCode]bool{
		StatusApproved: true, StatusRejected: true, StatusDisposed: true,
		StatusClosed: true, StatusCancelled: true,
	}
	for _, s := range Statuses() {
		assert.Equal(t, terminal[s], s.Terminal(), s.String())
	}
}

func TestDefaultCatalogCoversEveryStatus(t *testing.T) {
	c := Default()
	for _, s := range Statuses() {
		assert.NotEmpty(t, c.BucketsOf(s), "status %s has no bucket", s)
	}
}

func TestBucketLookups(t *testing.T) {
	c := Default()

	codes := c.CodesForBucket(BucketDisposed)
	assert.Len(t, codes, 1)
	assert.Contains(t, codes, StatusDisposed)

	assert.Empty(t, c.CodesForBucket("no-such-bucket"))

	buckets := c.BucketsOf(StatusForwarded)
	assert.Contains(t, buckets, BucketForwarded)
	assert.Contains(t, buckets, BucketPending)
	assert.Contains(t, buckets, BucketSent)

	sent, ok := c.Bucket(BucketSent)
	require.True(t, ok)
	assert.Equal(t, PerspectivePrevious, sent.Perspective)

	// Returned sets must be copies.
	codes[StatusDraft] = struct{}{}
	assert.NotContains(t, c.CodesForBucket(BucketDisposed), StatusDraft)
}

func TestActionsOrderedByPriority(t *testing.T) {
	one := 1
	c, err := New(Definition{Actions: []ActionDef{
		{Code: "CANCEL", Priority: &one},
		{Code: "CLOSE", Priority: &one},
	}})
	require.NoError(t, err)

	actions := c.Actions()
	require.GreaterOrEqual(t, len(actions), 2)
	// Equal priority keeps catalog insertion order: CLOSE precedes CANCEL.
	assert.Equal(t, ActionClose, actions[0].Code)
	assert.Equal(t, ActionCancel, actions[1].Code)
	assert.Equal(t, ActionForward, actions[2].Code)
}

func TestResolveAction(t *testing.T) {
	off := false
	c, err := New(Definition{Actions: []ActionDef{{Code: "GENERATE_FLAF", Label: "Final Form", Active: &off}}})
	require.NoError(t, err)

	a, err := c.ResolveAction(ActionForward)
	require.NoError(t, err)
	assert.Equal(t, "Forward", a.DisplayName)

	_, err = c.ResolveAction(ActionGenerateFLAF)
	assert.ErrorIs(t, err, ErrActionNotFound)

	_, err = c.ResolveAction(ActionCode(77))
	assert.ErrorIs(t, err, ErrActionNotFound)

	for _, a := range c.Actions() {
		assert.NotEqual(t, ActionGenerateFLAF, a.Code)
	}
}

func TestNewRejectsIncompleteBuckets(t *testing.T) {
	_, err := New(Definition{Buckets: []BucketDef{
		{Key: "only-draft", Statuses: []string{"DRAFT"}},
	}})
	assert.ErrorIs(t, err, ErrUnbucketed)

	_, err = New(Definition{Buckets: []BucketDef{
		{Key: "x", Statuses: []string{"NOPE"}},
	}})
	assert.ErrorIs(t, err, ErrUnknownCode)

	_, err = New(Definition{Statuses: []StatusDef{{Code: "UNKNOWN"}}})
	assert.ErrorIs(t, err, ErrUnknownCode)
}
