package gcs

import (
	"context"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// fakePager is a minimal objectPager for exercising listIterator.Next
// without a live bucket.
type fakePager struct {
	names []string
	pos   int
	err   error
}

func (f *fakePager) Next() (*gstorage.ObjectAttrs, error) {
	if f.pos >= len(f.names) {
		if f.err != nil {
			return nil, f.err
		}
		return nil, iterator.Done
	}
	name := f.names[f.pos]
	f.pos++
	return &gstorage.ObjectAttrs{Name: name}, nil
}

func TestClassifyError_ObjectNotExist(t *testing.T) {
	err := classifyError("download_object", gstorage.ErrObjectNotExist, "agent1/snapshot.json.gz")
	if kind, _ := persisterr.KindOf(err); kind != persisterr.NotFound {
		t.Errorf("kind = %v, want %v", kind, persisterr.NotFound)
	}
}

func TestClassifyError_BucketNotExist(t *testing.T) {
	err := classifyError("get_bucket_attrs", gstorage.ErrBucketNotExist, "")
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Configuration {
		t.Errorf("kind = %v, want %v", kind, persisterr.Configuration)
	}
}

func TestClassifyError_GoogleAPIErrorMapping(t *testing.T) {
	cases := []struct {
		code int
		want persisterr.Kind
	}{
		{404, persisterr.NotFound},
		{403, persisterr.PermissionDenied},
		{429, persisterr.Transient},
		{503, persisterr.Transient},
	}
	for _, tc := range cases {
		err := classifyError("upload_object", &googleapi.Error{Code: tc.code}, "key")
		if kind, _ := persisterr.KindOf(err); kind != tc.want {
			t.Errorf("code %d: kind = %v, want %v", tc.code, kind, tc.want)
		}
	}
}

func TestClassifyError_UnclassifiedDefaultsToTransient(t *testing.T) {
	err := classifyError("upload_object", errors.New("connection reset"), "key")
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Transient {
		t.Errorf("kind = %v, want %v", kind, persisterr.Transient)
	}
}

func TestCRC32C_Checksum(t *testing.T) {
	data := []byte("test data")
	got := crc32.Checksum(data, crc32cTable)
	if got == 0 {
		t.Error("CRC32C checksum should not be zero for non-empty data")
	}
	again := crc32.Checksum(data, crc32cTable)
	if got != again {
		t.Error("CRC32C checksum should be deterministic")
	}
}

func TestObjectKey_AppliesPrefix(t *testing.T) {
	a := &Adapter{prefix: "snapshots/"}
	if got := a.objectKey("agent1.json.gz"); got != "snapshots/agent1.json.gz" {
		t.Errorf("objectKey() = %q, want %q", got, "snapshots/agent1.json.gz")
	}
}

func TestListIterator_NextStripsPrefix(t *testing.T) {
	a := &Adapter{prefix: "snapshots/"}
	it := &listIterator{a: a, it: &fakePager{names: []string{"snapshots/agent1.json.gz", "snapshots/agent2.json.gz"}}}

	got, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != "agent1.json.gz" {
		t.Errorf("Next() = %q, want %q", got, "agent1.json.gz")
	}

	got, err = it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != "agent2.json.gz" {
		t.Errorf("Next() = %q, want %q", got, "agent2.json.gz")
	}
}

func TestListIterator_NextTranslatesIteratorDoneToEOF(t *testing.T) {
	a := &Adapter{prefix: "snapshots/"}
	it := &listIterator{a: a, it: &fakePager{names: []string{"snapshots/agent1.json.gz"}}}

	if _, err := it.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err := it.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Errorf("Next() at exhaustion error = %v, want io.EOF", err)
	}
}

func TestListIterator_NextClassifiesOtherErrors(t *testing.T) {
	a := &Adapter{prefix: "snapshots/"}
	it := &listIterator{a: a, it: &fakePager{err: &googleapi.Error{Code: 503}}}

	_, err := it.Next(context.Background())
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Transient {
		t.Errorf("kind = %v, want %v", kind, persisterr.Transient)
	}
}
