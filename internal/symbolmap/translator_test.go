package symbolmap

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/orderbridge/pkg/persistence"
)

func newTranslator(t *testing.T, entries ...Entry) (*Translator, *persistence.MemoryStore) {
	t.Helper()
	store := &persistence.MemoryStore{}
	if len(entries) > 0 {
		require.NoError(t, store.Save(Table(entries)))
	}
	tr, err := New(store)
	require.NoError(t, err)
	return tr, store
}

func entry(ext, venue string, ratio float64) Entry {
	return Entry{External: ext, Mapping: Mapping{VenueSymbol: venue, VolumeRatio: ratio}}
}

func TestResolve_SuffixedIdentifier(t *testing.T) {
	tr, _ := newTranslator(t, entry("BTCUSDT", "BTCUSDm", 1.0))

	venue, ratio := tr.Resolve("BTCUSDT@BinanceFutures")
	assert.Equal(t, "BTCUSDm", venue)
	assert.Equal(t, 1.0, ratio)
}

func TestResolve_LongestContainedKeyWins(t *testing.T) {
	tr, _ := newTranslator(t,
		entry("BTC", "BTCshort", 1),
		entry("BTCUSDT", "BTCUSDm", 0.1),
		entry("USDT", "USD", 2),
	)

	cases := map[string]string{
		"BTCUSDT":              "BTCUSDm", // exact
		"BTCUSDT.PERP":         "BTCUSDm", // BTCUSDT is the longest contained key
		"xBTCx":                "BTCshort",
		"ETHUSDT@Bybit":        "USD",
		"DOGE":                 "DOGE", // no match
		"binance:BTCUSDT:1min": "BTCUSDm",
	}
	for in, want := range cases {
		got, _ := tr.Resolve(in)
		assert.Equal(t, want, got, "resolve(%q)", in)
	}
}

func TestResolve_EqualLengthTieGoesToFirstRegistered(t *testing.T) {
	tr, _ := newTranslator(t, entry("AAA", "first", 1), entry("BBB", "second", 1))
	got, _ := tr.Resolve("BBB-AAA")
	assert.Equal(t, "first", got)
}

func TestResolve_Idempotent(t *testing.T) {
	tr, _ := newTranslator(t, entry("XAU", "XAUUSD", 0.01))
	v1, r1 := tr.Resolve("XAU@OANDA")
	v2, r2 := tr.Resolve("XAU@OANDA")
	assert.Equal(t, v1, v2)
	assert.Equal(t, r1, r2)
}

func TestScaleVolume(t *testing.T) {
	tr, _ := newTranslator(t, entry("XAU", "XAUUSD", 0.01))
	assert.Equal(t, 0.5*0.01, tr.ScaleVolume("XAU@OANDA", 0.5))
	assert.Equal(t, 3.0, tr.ScaleVolume("UNMAPPED", 3.0))
}

func TestAddThenRemoveRestoresResolve(t *testing.T) {
	tr, store := newTranslator(t, entry("BTC", "BTCUSDm", 1))

	before, beforeRatio := tr.Resolve("BTCUSDT@X")
	require.NoError(t, tr.Add("BTCUSDT", "BTCUSDT.p", 0.5))

	got, ratio := tr.Resolve("BTCUSDT@X")
	assert.Equal(t, "BTCUSDT.p", got)
	assert.Equal(t, 0.5, ratio)

	require.NoError(t, tr.Remove("BTCUSDT"))
	after, afterRatio := tr.Resolve("BTCUSDT@X")
	assert.Equal(t, before, after)
	assert.Equal(t, beforeRatio, afterRatio)
	assert.Equal(t, 3, store.Saves) // seed + add + remove
}

func TestAdd_Validation(t *testing.T) {
	tr, store := newTranslator(t)
	assert.ErrorIs(t, tr.Add("", "X", 1), ErrEmptySymbol)
	assert.ErrorIs(t, tr.Add("X", "  ", 1), ErrEmptySymbol)
	assert.ErrorIs(t, tr.Add("X", "Y", 0), ErrInvalidRatio)
	assert.ErrorIs(t, tr.Add("X", "Y", -1), ErrInvalidRatio)
	assert.Equal(t, 0, store.Saves)
}

func TestAdd_OverwriteKeepsPosition(t *testing.T) {
	tr, _ := newTranslator(t, entry("A", "a1", 1), entry("B", "b", 1))
	require.NoError(t, tr.Add("A", "a2", 2))

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].External)
	assert.Equal(t, "a2", entries[0].VenueSymbol)
	assert.Equal(t, "A", tr.Reverse("a2"))
	assert.Equal(t, "a1", tr.Reverse("a1"))
}

func TestRemove_Missing(t *testing.T) {
	tr, _ := newTranslator(t, entry("A", "a", 1))
	assert.ErrorIs(t, tr.Remove("Z"), ErrNotFound)
}

func TestAddRemove_TrimWhitespace(t *testing.T) {
	tr, _ := newTranslator(t)
	require.NoError(t, tr.Add(" XAU ", " XAUUSDm ", 1))
	sym, _ := tr.Resolve("XAU")
	assert.Equal(t, "XAUUSDm", sym)

	require.NoError(t, tr.Remove(" XAU "))
	assert.Empty(t, tr.All())
	assert.ErrorIs(t, tr.Remove("XAU"), ErrNotFound)
}

func TestReverse_FirstRegisteredWinsAndIsCleanedUp(t *testing.T) {
	tr, _ := newTranslator(t,
		entry("BTCUSDT", "BTCUSDm", 1),
		entry("XBTUSD", "BTCUSDm", 1),
	)
	assert.Equal(t, "BTCUSDT", tr.Reverse("BTCUSDm"))
	assert.Equal(t, "UNKNOWN", tr.Reverse("UNKNOWN"))

	// 移除第一个后，反向索引落到仍存在的映射上
	require.NoError(t, tr.Remove("BTCUSDT"))
	assert.Equal(t, "XBTUSD", tr.Reverse("BTCUSDm"))

	// 最后一个正向映射删除后，反向索引也消失
	require.NoError(t, tr.Remove("XBTUSD"))
	assert.Equal(t, "BTCUSDm", tr.Reverse("BTCUSDm"))
}

func TestPersistFailureLeavesTableUnchanged(t *testing.T) {
	tr, store := newTranslator(t, entry("A", "a", 1))
	store.SaveErr = errors.New("disk full")

	err := tr.Add("B", "b", 1)
	require.Error(t, err)
	got, _ := tr.Resolve("B")
	assert.Equal(t, "B", got)

	require.Error(t, tr.Remove("A"))
	got, _ = tr.Resolve("A")
	assert.Equal(t, "a", got)
}

func TestAll_IsCopy(t *testing.T) {
	tr, _ := newTranslator(t, entry("A", "a", 1))
	all := tr.All()
	all["B"] = Mapping{VenueSymbol: "b", VolumeRatio: 1}
	delete(all, "A")

	got, _ := tr.Resolve("A")
	assert.Equal(t, "a", got)
	assert.Len(t, tr.All(), 1)
}

func TestLoad_LegacyJSONDocument(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "login": 1,
  "symbol_mapping": {
    "XAUUSD": "GOLD",
    "BTCUSDT": {"symbol": "BTCUSDm", "volume_ratio": 0.1},
    "ETHUSDT": {"venue_id": "ETHUSDm"},
    "BAD": {"venue_id": "BADm", "volume_ratio": 0}
  }
}`
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

	store, err := persistence.NewDocumentStore(p, "symbol_mapping")
	require.NoError(t, err)
	tr, err := New(store)
	require.NoError(t, err)

	v, r := tr.Resolve("XAUUSD")
	assert.Equal(t, "GOLD", v)
	assert.Equal(t, 1.0, r)
	v, r = tr.Resolve("BTCUSDT")
	assert.Equal(t, "BTCUSDm", v)
	assert.Equal(t, 0.1, r)
	_, r = tr.Resolve("ETHUSDT")
	assert.Equal(t, 1.0, r)
	_, r = tr.Resolve("BAD")
	assert.Equal(t, 1.0, r)

	entries := tr.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"XAUUSD", "BTCUSDT", "ETHUSDT", "BAD"},
		[]string{entries[0].External, entries[1].External, entries[2].External, entries[3].External})

	// 写回后使用新格式，其它字段保留
	require.NoError(t, tr.Add("SOLUSDT", "SOLUSDm", 2))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"venue_id": "GOLD"`)
	assert.Contains(t, string(b), `"login": 1`)

	reloaded, err := New(store)
	require.NoError(t, err)
	v, r = reloaded.Resolve("SOLUSDT@X")
	assert.Equal(t, "SOLUSDm", v)
	assert.Equal(t, 2.0, r)
}

func TestLoad_YAMLDocument(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bridge.yaml")
	body := "venue:\n  kind: paper\nsymbol_mapping:\n  EURUSD: EURUSD.r\n  US30:\n    venue_id: DJ30\n    volume_ratio: 0.5\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

	store, err := persistence.NewDocumentStore(p, "symbol_mapping")
	require.NoError(t, err)
	tr, err := New(store)
	require.NoError(t, err)

	v, r := tr.Resolve("US30@FXCM")
	assert.Equal(t, "DJ30", v)
	assert.Equal(t, 0.5, r)

	require.NoError(t, tr.Remove("EURUSD"))
	reloaded, err := New(store)
	require.NoError(t, err)
	v, _ = reloaded.Resolve("EURUSD")
	assert.Equal(t, "EURUSD", v)
	assert.Len(t, reloaded.All(), 1)
}

func TestNew_MissingDocumentIsEmpty(t *testing.T) {
	store, err := persistence.NewDocumentStore(filepath.Join(t.TempDir(), "none.json"), "symbol_mapping")
	require.NoError(t, err)
	tr, err := New(store)
	require.NoError(t, err)
	assert.Empty(t, tr.All())
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	tr, _ := newTranslator(t, entry("BTC", "BTCUSDm", 1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v, _ := tr.Resolve("BTC@X")
				if v != "BTCUSDm" && v != "BTCUSDx" {
					t.Errorf("unexpected resolve result %q", v)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		venue := "BTCUSDm"
		if i%2 == 0 {
			venue = "BTCUSDx"
		}
		require.NoError(t, tr.Add("BTC", venue, 1))
	}
	close(stop)
	wg.Wait()
}
