package security

import (
	"strings"
	"testing"

	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealerFromPassphrase("correct horse battery staple")
	require.NoError(t, err)
	return s
}

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"32 bytes", make([]byte, 32), false},
		{"16 bytes", make([]byte, 16), true},
		{"64 bytes", make([]byte, 64), true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrKeyLength)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}

	_, err := NewSealerFromPassphrase("")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	s := newSealer(t)

	sealed, err := s.Seal("inner-light")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "inner-light")

	again, err := s.Seal("inner-light")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh nonce")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "inner-light", opened)

	resealed, err := s.Seal(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, resealed)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	plain, err := s.Open("not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := newSealer(t).Seal("inner-light")
	require.NoError(t, err)

	other, err := NewSealerFromPassphrase("another key")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, err = other.Open(SealedPrefix + "!!!")
	assert.Error(t, err)

	_, err = other.Open(SealedPrefix + "AAAA")
	assert.Error(t, err)
}

func TestIsSecretKey(t *testing.T) {
	assert.True(t, IsSecretKey("DATABASE_PASSWORD"))
	assert.True(t, IsSecretKey("AWS_SECRET_ACCESS_KEY"))
	assert.True(t, IsSecretKey("STATE_STORAGE_MINIO_ACCESS_KEY"))
	assert.True(t, IsSecretKey("minio_secret_key"))
	assert.False(t, IsSecretKey("DATABASE_HOST"))
	assert.False(t, IsSecretKey("LOG_LEVEL"))
}

func TestSealedStoreFacts(t *testing.T) {
	inner := storage.NewMemoryStore()
	store := NewSealedStore(inner, newSealer(t))

	db := types.Fact{
		Kind:     types.FactDatabase,
		Database: &types.DatabaseConnection{Host: "10.0.0.5", Port: "5432", Name: "airbyte-k8s_db", User: "operator", Password: "inner-light"},
	}
	minio := types.Fact{
		Kind:        types.FactMinio,
		ObjectStore: &types.ObjectStoreConnection{Kind: types.StorageMinio, Endpoint: "http://minio:9000", AccessKey: "access", SecretKey: "secret"},
	}
	require.NoError(t, store.SaveFact(db))
	require.NoError(t, store.SaveFact(minio))
	assert.Equal(t, "inner-light", db.Database.Password, "the caller's fact is not modified")

	raw, err := inner.ListFacts()
	require.NoError(t, err)
	require.Len(t, raw, 2)
	for _, f := range raw {
		switch f.Kind {
		case types.FactDatabase:
			assert.True(t, IsSealed(f.Database.Password))
			assert.Equal(t, "10.0.0.5", f.Database.Host)
		case types.FactMinio:
			assert.True(t, IsSealed(f.ObjectStore.AccessKey))
			assert.True(t, IsSealed(f.ObjectStore.SecretKey))
			assert.Equal(t, "http://minio:9000", f.ObjectStore.Endpoint)
		}
	}

	opened, err := store.ListFacts()
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Fact{db, minio}, opened)
}

func TestSealedStoreReadsPlainRecords(t *testing.T) {
	inner := storage.NewMemoryStore()
	peer := types.Fact{Kind: types.FactPeer, PeerReady: true}
	db := types.Fact{Kind: types.FactDatabase, Database: &types.DatabaseConnection{Host: "db", Password: "plain"}}
	require.NoError(t, inner.SaveFact(peer))
	require.NoError(t, inner.SaveFact(db))

	facts, err := NewSealedStore(inner, newSealer(t)).ListFacts()
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Fact{peer, db}, facts)
}

func TestSealedStoreApplied(t *testing.T) {
	inner := storage.NewMemoryStore()
	store := NewSealedStore(inner, newSealer(t))

	state := &types.AppliedState{
		Plan: &types.ProcessPlan{
			Name: "airbyte-server",
			Environment: map[string]string{
				"DATABASE_PASSWORD": "inner-light",
				"DATABASE_HOST":     "10.0.0.5",
			},
		},
	}
	require.NoError(t, store.SaveApplied("airbyte-server", state))
	assert.Equal(t, "inner-light", state.Plan.Environment["DATABASE_PASSWORD"])

	raw, err := inner.GetApplied("airbyte-server")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.Plan.Environment["DATABASE_PASSWORD"], SealedPrefix))
	assert.Equal(t, "10.0.0.5", raw.Plan.Environment["DATABASE_HOST"])

	got, err := store.GetApplied("airbyte-server")
	require.NoError(t, err)
	assert.True(t, got.Plan.Equal(state.Plan))

	all, err := store.ListApplied()
	require.NoError(t, err)
	require.Contains(t, all, "airbyte-server")
	assert.True(t, all["airbyte-server"].Plan.Equal(state.Plan))

	_, err = store.GetApplied("airbyte-workers")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
