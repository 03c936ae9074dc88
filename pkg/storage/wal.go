package storage

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// NopWAL discards entries.
type NopWAL struct{}

func NewNopWAL() *NopWAL { return &NopWAL{} }

func (w *NopWAL) Append(uint64, [][]byte) error { return nil }
func (w *NopWAL) Close() error                  { return nil }

// FileWAL appends one line per proposed block: the height followed by each
// transaction hex encoded, space separated.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open wal %s", path)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(height uint64, txs [][]byte) error {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(height, 10))
	for _, tx := range txs {
		sb.WriteByte(' ')
		sb.WriteString(hex.EncodeToString(tx))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.f, sb.String()); err != nil {
		return errors.Wrap(err, "append wal")
	}
	return w.f.Sync()
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// WALEntry is one decoded FileWAL line.
type WALEntry struct {
	Height uint64
	Txs    [][]byte
}

// ReadWAL decodes every entry of a FileWAL. A missing file yields none.
func ReadWAL(path string) ([]WALEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open wal %s", path)
	}
	defer f.Close()

	var out []WALEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		h, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "wal line %d", line)
		}
		e := WALEntry{Height: h}
		for _, fld := range fields[1:] {
			tx, err := hex.DecodeString(fld)
			if err != nil {
				return nil, errors.Wrapf(err, "wal line %d", line)
			}
			e.Txs = append(e.Txs, tx)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
