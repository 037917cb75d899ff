package store_test

import (
	"context"
	"strings"
	"testing"

	"retailpos/internal/store"
	"retailpos/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_RollsBackOnlyItsOwnWork(t *testing.T) {
	s := storetest.New()

	outer, err := store.Enter(s, "loan")
	require.NoError(t, err)
	inner, err := store.Enter(s, "checkout")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(outer.Name(), "loan_"))
	assert.NotEqual(t, outer.Name(), inner.Name())

	require.NoError(t, inner.Rollback())
	require.NoError(t, outer.Rollback())

	// inner was discarded by the outer rollback
	err = inner.Rollback()
	assert.ErrorIs(t, err, store.ErrUnknownSavepoint)
}

func TestFakeStore_ClosedStoreRejectsWork(t *testing.T) {
	f := &storetest.Factory{}
	st, err := f.NewStore(context.Background())
	require.NoError(t, err)

	require.NoError(t, st.Close())
	assert.True(t, st.Obsolete())
	assert.ErrorIs(t, st.Commit(), store.ErrObsolete)
	assert.NoError(t, st.Close())
}

func TestFakeStore_Confirm(t *testing.T) {
	s := storetest.New()

	ok, err := s.Confirm(false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Committed())

	ok, err = s.Confirm(true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Committed())
	assert.Equal(t, []string{"rollback", "commit"}, s.Ops)
}
