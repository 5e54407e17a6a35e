package codec

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"scrapbook/internal/domain/models/docsystem"
)

func TestSnapshotRoundTrip(t *testing.T) {
	in := docsystem.Snapshot{
		Kind:     docsystem.KindBook,
		Title:    "Collected",
		Children: []docsystem.DocumentKey{{Author: "amy", ID: "a"}, {Author: "bob", ID: "b"}},
	}

	blob, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != in.Kind || out.Title != in.Title || len(out.Children) != 2 || out.Children[1].Author != "bob" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestEncodeSnapshotCompresses(t *testing.T) {
	in := docsystem.Snapshot{Kind: docsystem.KindScrap, Content: strings.Repeat("lorem ipsum ", 1000)}
	blob, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(blob) >= len(in.Content) {
		t.Errorf("expected compressed blob smaller than %d bytes, got %d", len(in.Content), len(blob))
	}
}

func TestSharedCodersBuildOnceConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("scrap %d", i)
			blob, err := EncodeSnapshot(docsystem.Snapshot{Kind: docsystem.KindScrap, Content: content})
			if err != nil {
				errs <- err
				return
			}
			out, err := DecodeSnapshot(blob)
			if err != nil {
				errs <- err
				return
			}
			if out.Content != content {
				errs <- fmt.Errorf("content = %q, want %q", out.Content, content)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	enc, encErr := zstdEncoder()
	dec, decErr := zstdDecoder()
	if enc == nil || encErr != nil || dec == nil || decErr != nil {
		t.Errorf("coders = %v, %v / %v, %v", enc, encErr, dec, decErr)
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("not zstd")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestContentHash(t *testing.T) {
	a := docsystem.Snapshot{Kind: docsystem.KindScrap, Content: "hello"}
	b := docsystem.Snapshot{Kind: docsystem.KindScrap, Content: "hello"}
	c := docsystem.Snapshot{Kind: docsystem.KindScrap, Content: "hello world"}
	d := docsystem.Snapshot{Kind: docsystem.KindScrap, Content: "hello", Deleted: true}

	if ContentHash(a) != ContentHash(b) {
		t.Error("identical snapshots must hash identically")
	}
	if ContentHash(a) == ContentHash(c) {
		t.Error("different content must hash differently")
	}
	if ContentHash(a) == ContentHash(d) {
		t.Error("tombstone must change the hash")
	}
	if len(ContentHash(a)) != 16 {
		t.Errorf("hash length = %d, want 16", len(ContentHash(a)))
	}
}

func TestForkRefRoundTrip(t *testing.T) {
	raw, err := EncodeForkRef(nil)
	if err != nil || raw != nil {
		t.Fatalf("nil ref should encode to nil, got %v, %v", raw, err)
	}

	ref := &docsystem.ForkRef{Author: "amy", ID: "x", VersionID: "01H", Seq: 3}
	raw, err = EncodeForkRef(ref)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeForkRef(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *ref {
		t.Errorf("got %+v, want %+v", got, ref)
	}
}
