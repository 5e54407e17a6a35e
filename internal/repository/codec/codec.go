// Package codec encodes version snapshots for the SQL storage drivers.
//
// A snapshot is serialized as JSON and zstd-compressed before it is written
// to a blob column. Content hashes use xxh3 over the snapshot text so that
// identical content hashes identically across drivers.
package codec

import (
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"scrapbook/internal/domain/models/docsystem"
)

// Encoder and decoder are safe for concurrent use and expensive to build,
// so one of each is shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// EncodeSnapshot serializes and compresses a snapshot
func EncodeSnapshot(s docsystem.Snapshot) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return enc.EncodeAll(raw, nil), nil
}

// DecodeSnapshot reverses EncodeSnapshot
func DecodeSnapshot(blob []byte) (docsystem.Snapshot, error) {
	var s docsystem.Snapshot
	dec, err := zstdDecoder()
	if err != nil {
		return s, fmt.Errorf("zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return s, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// EncodeForkRef serializes provenance for a nullable text column
func EncodeForkRef(ref *docsystem.ForkRef) (*string, error) {
	if ref == nil {
		return nil, nil
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshal fork ref: %w", err)
	}
	s := string(raw)
	return &s, nil
}

// DecodeForkRef reverses EncodeForkRef
func DecodeForkRef(raw *string) (*docsystem.ForkRef, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var ref docsystem.ForkRef
	if err := json.Unmarshal([]byte(*raw), &ref); err != nil {
		return nil, fmt.Errorf("unmarshal fork ref: %w", err)
	}
	return &ref, nil
}

// ContentHash returns the 16 hex character xxh3 hash of a snapshot's text.
// Book snapshots hash their ordered child list.
func ContentHash(s docsystem.Snapshot) string {
	var b strings.Builder
	b.WriteString(string(s.Kind))
	b.WriteByte(0)
	b.WriteString(s.Title)
	b.WriteByte(0)
	b.WriteString(s.Content)
	for _, c := range s.Children {
		b.WriteByte(0)
		b.WriteString(c.String())
	}
	if s.Deleted {
		b.WriteString("\x00deleted")
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}
