package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tile:3/1/2:g7:heat", TileKey(3, 1, 2, 7, "heat"))
	assert.NotEqual(t, TileKey(3, 1, 2, 7, "heat"), TileKey(3, 1, 2, 8, "heat"))
	assert.Equal(t, "cell:8928308280fffff", CellKey("8928308280fffff"))
}

func TestTileCacheRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 4})
	require.NoError(t, err)
	defer m.Close()

	_, ok := m.GetTile("k")
	assert.False(t, ok)

	require.NoError(t, m.SetTile("k", []byte("png")))
	got, ok := m.GetTile("k")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), got)

	require.NoError(t, m.ResetTiles())
	_, ok = m.GetTile("k")
	assert.False(t, ok)

	m.SetQuery("q", []byte("{}"))
	q, ok := m.GetQuery("q")
	require.True(t, ok)
	assert.Equal(t, []byte("{}"), q)

	stats := m.Stats()
	assert.Equal(t, 1, stats["query_cache_len"])
}

func TestShardCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sizeMB int
		want   int
	}{
		{0, 1024},
		{1, 1},
		{8, 8},
		{12, 8},
		{256, 256},
		{4096, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shardCount(tt.sizeMB), "size %d", tt.sizeMB)
	}
}
