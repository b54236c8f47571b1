package mem

import (
	"context"
	"testing"

	"github.com/bobg/bsv/testutil"
)

func TestStore(t *testing.T) {
	s := New()
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(1<<20))
	if s.Len() != 1 {
		t.Errorf("got %d blobs, want 1", s.Len())
	}
}
