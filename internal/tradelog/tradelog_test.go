package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, p string) []Entry {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAppendWritesDailyFileInAEST(t *testing.T) {
	j := New(t.TempDir())
	// 15:30 UTC is already the next day in Sydney.
	j.now = func() time.Time { return time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC) }

	require.NoError(t, j.Append(Entry{Backend: "web", Side: "Buy", Stock: "BHP", Qty: 100, Price: "45.11", OrderID: "AB123"}))
	require.NoError(t, j.Append(Entry{Backend: "web", Side: "Sell", Stock: "CBA", Qty: 5, Price: "market", Error: "Trade error: Insufficient holdings"}))

	got := readLines(t, filepath.Join(j.Dir(), "orders", "2024-03-05.txt"))
	require.Len(t, got, 2)
	assert.Equal(t, "2024-03-05 01:30:00", got[0].Time)
	assert.Equal(t, "AB123", got[0].OrderID)
	assert.Empty(t, got[0].Error)
	assert.Equal(t, "Trade error: Insufficient holdings", got[1].Error)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	old := filepath.Join(dir, "orders", "2024-03-01.txt")
	fresh := filepath.Join(dir, "orders", "2024-03-19.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(old), 0o755))
	require.NoError(t, os.WriteFile(old, []byte("{\"stock\":\"BHP\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(old, now.AddDate(0, 0, -19), now.AddDate(0, 0, -19)))
	require.NoError(t, os.Chtimes(fresh, now.AddDate(0, 0, -1), now.AddDate(0, 0, -1)))

	require.NoError(t, j.CompressOlder(7))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	f, err := os.Open(old + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, "{\"stock\":\"BHP\"}\n", string(b))
}

func TestCompressOlderDisabled(t *testing.T) {
	assert.NoError(t, New(filepath.Join(t.TempDir(), "missing")).CompressOlder(0))
}
