package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bobg/bsv"
)

type nopStore struct{ name string }

func (nopStore) Put(context.Context, []byte, bsv.PutOptions) (bsv.Handle, error) {
	return "", nil
}

func (nopStore) Get(context.Context, bsv.Handle) ([]byte, error) {
	return nil, bsv.ErrNotFound
}

func TestRegistry(t *testing.T) {
	Register("test-nop", func(_ context.Context, conf map[string]interface{}) (bsv.Store, error) {
		name, err := String(conf, "name")
		if err != nil {
			return nil, err
		}
		return nopStore{name: name}, nil
	})

	ctx := context.Background()

	s, err := FromConfig(ctx, map[string]interface{}{"type": "test-nop", "name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.(nopStore).name; got != "x" {
		t.Errorf("got name %q, want x", got)
	}

	if _, err = FromConfig(ctx, map[string]interface{}{"type": "test-nop"}); err == nil {
		t.Error("got no error for missing parameter")
	}
	if _, err = FromConfig(ctx, map[string]interface{}{"type": "no-such-type"}); err == nil {
		t.Error("got no error for unknown type")
	}
	if _, err = FromConfig(ctx, map[string]interface{}{}); err == nil {
		t.Error("got no error for missing type")
	}

	s, err = Nested(ctx, map[string]interface{}{"nested": map[string]interface{}{"type": "test-nop", "name": "y"}}, "nested")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.(nopStore).name; got != "y" {
		t.Errorf("got nested name %q, want y", got)
	}
}

func TestInt(t *testing.T) {
	conf := map[string]interface{}{
		"a": 7,
		"b": int64(8),
		"c": float64(9),
		"d": 1.5,
		"e": "ten",
		"f": json.Number("11"),
		"g": json.Number("11.5"),
	}
	cases := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"a", 7, false},
		{"b", 8, false},
		{"c", 9, false},
		{"d", 0, true},
		{"e", 0, true},
		{"f", 11, false},
		{"g", 0, true},
		{"missing", 42, false},
	}
	for _, c := range cases {
		got, err := Int(conf, c.key, 42)
		if c.wantErr {
			if err == nil {
				t.Errorf("%s: got no error", c.key)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %s", c.key, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s: got %d, want %d", c.key, got, c.want)
		}
	}
}
