package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
	"github.com/osgate/releasehub/internal/store"
)

func newExtStore(t *testing.T) *store.ExtStore {
	t.Helper()
	st, err := store.NewExtStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func extRow(ns, name, ver, tp string) model.ExtensionRecord {
	return model.ExtensionRecord{
		Namespace:      ns,
		Name:           name,
		Version:        ver,
		TargetPlatform: tp,
		DirPath:        "extensions/" + ns + "/" + name + "/" + ver + "/" + tp,
		PublishedAt:    1,
	}
}

func TestReplaceAllSwapsRowSet(t *testing.T) {
	st := newExtStore(t)
	require.NoError(t, st.ReplaceAll([]model.ExtensionRecord{
		extRow("acme", "tool", "1.0.0", "universal"),
		extRow("acme", "tool", "2.0.0", "linux-x64"),
	}))

	recs, err := st.ListRecords("acme", "tool")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, st.ReplaceAll([]model.ExtensionRecord{
		extRow("acme", "tool", "3.0.0", "universal"),
	}))
	recs, err = st.ListRecords("acme", "tool")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "3.0.0", recs[0].Version)

	require.NoError(t, st.ReplaceAll(nil))
	recs, err = st.ListRecords("acme", "tool")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReplaceAllCommitsDeleteBeforeReinsert(t *testing.T) {
	st := newExtStore(t)
	require.NoError(t, st.ReplaceAll([]model.ExtensionRecord{
		extRow("acme", "tool", "1.0.0", "universal"),
	}))

	// A duplicate key rolls the reinsert transaction back, but the old rows
	// are still gone: the delete committed on its own. That standalone commit
	// is the window a concurrent reader observes as an empty index.
	err := st.ReplaceAll([]model.ExtensionRecord{
		extRow("acme", "tool", "2.0.0", "universal"),
		extRow("acme", "tool", "2.0.0", "universal"),
	})
	require.Error(t, err)

	recs, err := st.ListRecords("acme", "tool")
	require.NoError(t, err)
	assert.Empty(t, recs)

	pairs, err := st.ListPairs("")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}
