package domain

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestQueryKey(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []string
		same    bool
		wantErr bool
	}{
		{name: "identical", a: []string{"Foo"}, b: []string{"Foo"}, same: true},
		{name: "order independent", a: []string{"Foo", "Bar"}, b: []string{"Bar", "Foo"}, same: true},
		{name: "duplicates ignored", a: []string{"Foo", "Foo", "Bar"}, b: []string{"Bar", "Foo"}, same: true},
		{name: "whitespace trimmed", a: []string{" Foo "}, b: []string{"Foo"}, same: true},
		{name: "different sets", a: []string{"Foo"}, b: []string{"Bar"}, same: false},
		{name: "subset differs", a: []string{"Foo"}, b: []string{"Foo", "Bar"}, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, err := Query{Types: tt.a}.Key()
			if err != nil {
				t.Fatalf("Key(%v) error = %v", tt.a, err)
			}
			kb, err := Query{Types: tt.b}.Key()
			if err != nil {
				t.Fatalf("Key(%v) error = %v", tt.b, err)
			}
			if (ka == kb) != tt.same {
				t.Errorf("Key(%v) == Key(%v) is %v, want %v", tt.a, tt.b, ka == kb, tt.same)
			}
		})
	}
}

func TestQueryKeyRejectsEmpty(t *testing.T) {
	for _, types := range [][]string{nil, {}, {"", "  "}} {
		_, err := Query{Types: types}.Key()
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Key(%q) error = %v, want ErrInvalidQuery", types, err)
		}
	}
}

func TestQueryKeyDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		types := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z]{1,8}`), 1, 6).Draw(t, "types")

		k1, err := Query{Types: types}.Key()
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		k2, _ := Query{Types: types}.Key()
		if k1 != k2 {
			t.Fatalf("Key() not deterministic: %s != %s", k1, k2)
		}

		shuffled := rapid.Permutation(types).Draw(t, "shuffled")
		k3, _ := Query{Types: shuffled}.Key()
		if k1 != k3 {
			t.Fatalf("Key() depends on order: %v -> %s, %v -> %s", types, k1, shuffled, k3)
		}
	})
}

func TestQueryKeyShort(t *testing.T) {
	k, _ := Query{Types: []string{"Foo"}}.Key()
	if len(k.Short()) != 12 {
		t.Errorf("Short() = %q, want 12 chars", k.Short())
	}
	if QueryKey("abc").Short() != "abc" {
		t.Errorf("Short() should keep short keys intact")
	}
}
