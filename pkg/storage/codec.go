package storage

import (
	"bytes"
	"encoding/gob"
)

// Block and commit records are gob encoded; state records are JSON so they
// stay readable with any Pebble inspection tool.

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
