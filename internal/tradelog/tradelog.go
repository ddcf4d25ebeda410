// Package tradelog journals order outcomes as JSON lines, one file per
// trading day, and gzips files past the retention window.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var aest = time.FixedZone("AEST", 10*60*60)

type Entry struct {
	Time    string `json:"time"`
	Backend string `json:"backend"`
	Account string `json:"account,omitempty"`
	Side    string `json:"side"`
	Stock   string `json:"stock"`
	Qty     int    `json:"qty"`
	Price   string `json:"price"` // "market" for at-market orders
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Journal struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func New(dir string) *Journal {
	if dir == "" {
		dir = "logs"
	}
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) dailyFilepath(t time.Time) string {
	return filepath.Join(j.dir, "orders", t.In(aest).Format("2006-01-02")+".txt")
}

// Append stamps e with the current time and writes it to today's file.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().In(aest)
	e.Time = now.Format("2006-01-02 15:04:05")
	p := j.dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files last written more than retentionDays
// ago. Files that cannot be read are left alone.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
