package bus

import (
	"bytes"
	"fmt"
	"testing"
)

func TestFrameDoneReleasesWithoutCrashing(t *testing.T) {
	f := newFrame([]byte("hello"))
	if !bytes.Equal(f.Bytes(), []byte("hello")) {
		t.Fatalf("payload: %q", f.Bytes())
	}
	f.Done()
	if f.Bytes() != nil {
		t.Fatalf("payload must be released after Done")
	}
	// a second Done is a no-op, not a double release
	f.Done()
}

func TestFrameReuseCarriesFreshPayload(t *testing.T) {
	for i := 0; i < 100; i++ {
		want := fmt.Sprintf("payload-%d", i)
		f := newFrame([]byte(want))
		if string(f.Bytes()) != want {
			t.Fatalf("iteration %d: got %q", i, f.Bytes())
		}
		f.Done()
		f.Done()
	}
}

func TestPushDropReleasesFrame(t *testing.T) {
	r := New(10, 2, 1)
	c, err := r.Register("slow")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer r.Unregister(c)

	if !c.push([]byte("first")) {
		t.Fatalf("first push must fit the buffer")
	}
	// buffer full: the drop path runs Done on the staged frame
	if c.push([]byte("second")) {
		t.Fatalf("second push must be dropped")
	}
	if c.Dropped() != 1 {
		t.Fatalf("dropped: %d", c.Dropped())
	}

	f := <-c.Out()
	if string(f.Bytes()) != "first" {
		t.Fatalf("queued frame: %q", f.Bytes())
	}
	f.Done()
}
