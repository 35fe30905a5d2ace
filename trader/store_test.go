package trader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	s := NewState()
	s.Position = HoldingBase
	s.EntryPrice = 1973.03
	s.PotQuote = 11.1
	s.PotBase = 0.5012
	s.TradeCount = 3
	s.DayKey = "2026-09-01"
	s.PriceHistory = []float64{1990, 1995, 2000}
	require.NoError(t, st.Save(s))

	loaded, err := st.Load("", 60, 30)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestStoreFreshStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	s, err := st.Load("", 60, 30)
	require.NoError(t, err)
	assert.Equal(t, HoldingQuote, s.Position)
	assert.Equal(t, 0, s.TradeCount)
}

func TestStoreSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	s := NewState()
	s.TradeCount = 1
	require.NoError(t, st.Save(s))
	s.TradeCount = 2
	require.NoError(t, st.Save(s))

	loaded, err := st.Load("", 60, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TradeCount)
}

func TestStoreLegacyImport(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "bot_state.json")
	legacy := `{"state":"HOLDING_USDT","pot_usdt":42.5,"pot_eth":0.25,"trade_count":2,"last_sell_price":1999.9}`
	require.NoError(t, os.WriteFile(legacyPath, []byte(legacy), 0o644))

	st, err := OpenStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer st.Close()

	s, err := st.Load(legacyPath, 60, 30)
	require.NoError(t, err)
	assert.Equal(t, HoldingQuote, s.Position)
	assert.Equal(t, 42.5, s.PotQuote)
	assert.Equal(t, 0.25, s.PotBase)
	assert.Equal(t, 2, s.TradeCount)

	// 导入后已落库，旧文件删除也不影响
	require.NoError(t, os.Remove(legacyPath))
	again, err := st.Load(legacyPath, 60, 30)
	require.NoError(t, err)
	assert.Equal(t, 42.5, again.PotQuote)
}

func TestStoreLoadCapsLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := OpenStore(path)
	require.NoError(t, err)
	defer st.Close()

	s := NewState()
	for i := 0; i < 100; i++ {
		s.PriceHistory = append(s.PriceHistory, float64(i))
	}
	require.NoError(t, st.Save(s))

	loaded, err := st.Load("", 10, 5)
	require.NoError(t, err)
	require.Len(t, loaded.PriceHistory, 10)
	assert.Equal(t, 99.0, loaded.PriceHistory[9])
}
