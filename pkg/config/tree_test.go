package config

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTreeDefaults(t *testing.T) {
	tree := New("tcp://127.0.0.1:9560")

	assert.Equal(t, "tcp://127.0.0.1:9560", tree.Margo.Mercury.Address)
	assert.True(t, tree.Margo.Mercury.Listening)
	require.True(t, tree.HasPool(DefaultPoolName))
	assert.Equal(t, DefaultPoolName, tree.DefaultPool())
	require.NoError(t, tree.Validate())
}

func TestTreeNameConflicts(t *testing.T) {
	tree := New("na+sm")

	require.NoError(t, tree.AddProvider(ProviderEntry{
		Name: "p1", Type: "kv_provider", ProviderID: 1,
		Pool: DefaultPoolName, Config: json.RawMessage(`{}`),
	}))
	err := tree.AddProvider(ProviderEntry{Name: "p1", Type: "kv_provider"})
	assert.ErrorIs(t, err, ErrNameConflict)

	require.NoError(t, tree.AddClient(ClientEntry{
		Name: "c1", Type: "kv_client", Config: json.RawMessage(`{}`),
	}))
	assert.ErrorIs(t, tree.AddClient(ClientEntry{Name: "c1"}), ErrNameConflict)

	// Provider and client sections have independent namespaces; both are
	// still visible to dependency resolution.
	require.NoError(t, tree.AddClient(ClientEntry{Name: "p1", Type: "kv_client"}))
	assert.True(t, tree.HasComponent("p1"))
	assert.True(t, tree.HasComponent("c1"))
	assert.False(t, tree.HasComponent("nope"))
}

func TestTreeABTIO(t *testing.T) {
	tree := New("na+sm")

	require.NoError(t, tree.AddABTIO(ABTIOEntry{
		Name: "io1", Pool: DefaultPoolName, Config: json.RawMessage(`{}`),
	}))
	assert.ErrorIs(t, tree.AddABTIO(ABTIOEntry{Name: "io1", Pool: DefaultPoolName}), ErrNameConflict)
	assert.ErrorIs(t, tree.AddABTIO(ABTIOEntry{Name: "io2", Pool: "missing"}), ErrUnknownPool)
	require.NotNil(t, tree.FindABTIO("io1"))
}

func TestTreeLibraries(t *testing.T) {
	tree := New("na+sm")

	require.NoError(t, tree.AddLibrary("kv", "./kv.mod"))
	assert.ErrorIs(t, tree.AddLibrary("kv", "./other.mod"), ErrNameConflict)
	assert.Equal(t, "./kv.mod", tree.Libraries["kv"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	tree := New("tcp://10.0.0.1:1234")
	require.NoError(t, tree.AddLibrary("kv", "./kv.mod"))
	require.NoError(t, tree.AddProvider(ProviderEntry{
		Name: "p1", Type: "kv_provider", ProviderID: 1,
		Pool: DefaultPoolName, Config: json.RawMessage(`{"path":"/tmp/db"}`),
		Dependencies: DependencyMap{"store": {"s1", "s2"}},
	}))
	tree.AddSSGGroup(json.RawMessage(`{"name":"g1","bootstrap":"init"}`))

	snap, err := tree.Snapshot()
	require.NoError(t, err)

	parsed, err := FromJSON([]byte(snap))
	require.NoError(t, err)

	assert.Equal(t, tree.Margo.Mercury.Address, parsed.Margo.Mercury.Address)
	require.NotNil(t, parsed.FindProvider("p1"))
	assert.Equal(t, []string{"s1", "s2"}, parsed.FindProvider("p1").Dependencies["store"])
	assert.Len(t, parsed.SSG, 1)
	assert.Equal(t, "./kv.mod", parsed.Libraries["kv"])
}

func TestFromJSONValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "duplicate providers",
			doc: `{"margo":{"argobots":{"pools":[{"name":"p"}]}},
			       "providers":[{"name":"x","type":"t","pool":"p"},{"name":"x","type":"t","pool":"p"}]}`,
			want: ErrNameConflict,
		},
		{
			name: "unknown provider pool",
			doc: `{"margo":{"argobots":{"pools":[{"name":"p"}]}},
			       "providers":[{"name":"x","type":"t","pool":"ghost"}]}`,
			want: ErrUnknownPool,
		},
		{
			name: "unknown xstream pool",
			doc: `{"margo":{"argobots":{"pools":[{"name":"p"}],
			       "xstreams":[{"name":"x","scheduler":{"type":"basic","pools":["ghost"]}}]}}}`,
			want: ErrUnknownPool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := FromJSON([]byte("not a document"))
		assert.Error(t, err)
	})

	t.Run("empty document gets default pool", func(t *testing.T) {
		tree, err := FromJSON([]byte(`{}`))
		require.NoError(t, err)
		assert.True(t, tree.HasPool(DefaultPoolName))
	})
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		address string
		wantErr bool
	}{
		{in: "p1", name: "p1"},
		{in: "p1@tcp://10.0.0.1:1234", name: "p1", address: "tcp://10.0.0.1:1234"},
		{in: "", wantErr: true},
		{in: "@tcp://10.0.0.1:1234", wantErr: true},
		{in: "p1@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			target, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, target.Name)
			assert.Equal(t, tt.address, target.Address)
			assert.Equal(t, tt.address != "", target.Remote())
			assert.Equal(t, tt.in, target.String())
		})
	}
}

func TestSnapshotUnchangedAfterFailedAdd(t *testing.T) {
	tree := New("na+sm")
	require.NoError(t, tree.AddProvider(ProviderEntry{
		Name: "p1", Type: "t", Pool: DefaultPoolName, Config: json.RawMessage(`{}`),
	}))

	before, err := tree.Snapshot()
	require.NoError(t, err)

	require.Error(t, tree.AddProvider(ProviderEntry{Name: "p1", Type: "t"}))
	require.Error(t, tree.AddABTIO(ABTIOEntry{Name: "io", Pool: "ghost"}))

	after, err := tree.Snapshot()
	require.NoError(t, err)

	var b, a any
	require.NoError(t, json.Unmarshal([]byte(before), &b))
	require.NoError(t, json.Unmarshal([]byte(after), &a))
	assert.Equal(t, b, a)
}

func TestValidateRejectsEmptyPoolName(t *testing.T) {
	tree := New("na+sm")
	tree.Margo.Argobots.Pools = append(tree.Margo.Argobots.Pools, PoolConfig{Name: ""})
	err := tree.Validate()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownPool))
}
