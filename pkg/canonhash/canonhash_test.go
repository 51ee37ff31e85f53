package canonhash

import (
	"strings"
	"testing"
)

func TestSumObjectIgnoresMapOrder(t *testing.T) {
	a := map[string]string{"client_name": "Acme", "fee": "USD 1200.00"}
	b := map[string]string{"fee": "USD 1200.00", "client_name": "Acme"}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
}

func TestSumObjectChangesWhenValuesChange(t *testing.T) {
	ha, _, _ := SumObject(map[string]string{"client_name": "Acme"})
	hb, _, _ := SumObject(map[string]string{"client_name": "Apex"})
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestSumIsHexSHA256(t *testing.T) {
	got := Sum([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("Sum(hello) = %s, want %s", got, want)
	}
	if len(got) != 64 || strings.ContainsAny(got, "ABCDEF") {
		t.Fatalf("digest not lowercase hex: %s", got)
	}
}

func TestSumObjectUnencodableValue(t *testing.T) {
	if _, _, err := SumObject(map[string]any{"f": func() {}}); err == nil {
		t.Fatalf("expected marshal error")
	}
}
