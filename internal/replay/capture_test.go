package replay

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func TestReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, b562
10, 0a 0b
`)

	recs, err := ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Chunk != nil {
		t.Fatalf("expected START marker, got %v", recs[0].Chunk)
	}
	if !reflect.DeepEqual(recs[1].Chunk, []byte{0xb5, 0x62}) {
		t.Fatalf("unexpected chunk 1: %x", recs[1].Chunk)
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
}

func TestReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{"no-comma\n", "-5,0102\n", "5,zz\n", "5,\n"} {
		if _, err := ReadAll(strings.NewReader(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestWriterRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "capture.txt")
	w, err := CreateWriter(p)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	base := time.Now()
	if err := w.WriteChunk(base.Add(time.Millisecond), []byte{0xb5, 0x62, 0x01}); err != nil {
		t.Fatalf("WriteChunk() error: %v", err)
	}
	if err := w.WriteChunk(base.Add(2*time.Millisecond), []byte("$GNGGA")); err != nil {
		t.Fatalf("WriteChunk() error: %v", err)
	}
	if err := w.WriteChunk(base, nil); err != nil {
		t.Fatalf("empty chunk should be ignored: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteChunk(base, []byte{1}); err == nil {
		t.Fatalf("expected error after Close")
	}

	recs, err := ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != 3 || recs[0].Chunk != nil {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if string(recs[2].Chunk) != "$GNGGA" {
		t.Fatalf("unexpected chunk: %q", recs[2].Chunk)
	}
	if recs[2].At < recs[1].At {
		t.Fatalf("timestamps went backwards: %s < %s", recs[2].At, recs[1].At)
	}
}

func TestPlay_TimingAndSpeed(t *testing.T) {
	recs := []Record{
		{},
		{At: 0, Chunk: []byte{1}},
		{At: 100 * time.Millisecond, Chunk: []byte{2}},
		{At: 300 * time.Millisecond, Chunk: []byte{3}},
	}
	fs := &fakeSleeper{}
	var got []byte
	err := Play(context.Background(), recs, 2.0, false, fs, func(c []byte) error {
		got = append(got, c...)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Fatalf("unexpected chunks: %v", got)
	}
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if !reflect.DeepEqual(fs.slept, want) {
		t.Fatalf("slept=%v want %v", fs.slept, want)
	}
}

func TestPlay_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	err := Play(context.Background(), []Record{{Chunk: []byte{1}}, {Chunk: []byte{2}}}, 1, true, &fakeSleeper{}, func([]byte) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestPlay_Validation(t *testing.T) {
	cb := func([]byte) error { return nil }
	if err := Play(context.Background(), []Record{{Chunk: []byte{1}}}, 0, false, nil, cb); err == nil {
		t.Fatalf("expected speed error")
	}
	if err := Play(context.Background(), nil, 1, false, nil, cb); err == nil {
		t.Fatalf("expected no-records error")
	}
	if err := Play(context.Background(), []Record{{Chunk: []byte{1}}}, 1, false, nil, nil); err == nil {
		t.Fatalf("expected nil callback error")
	}
}

func TestSource_PreservesReadBoundaries(t *testing.T) {
	src := NewSource([]Record{{}, {Chunk: []byte{1, 2, 3}}, {Chunk: []byte{4}}})
	buf := make([]byte, 2)

	var reads [][]byte
	for {
		n, err := src.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		reads = append(reads, append([]byte(nil), buf[:n]...))
	}
	want := [][]byte{{1, 2}, {3}, {4}}
	if !reflect.DeepEqual(reads, want) {
		t.Fatalf("reads=%v want %v", reads, want)
	}
}
