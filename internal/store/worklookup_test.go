package store

import (
	"errors"
	"testing"
)

func TestParseLogRef(t *testing.T) {
	id, err := parseLogRef("log:42")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}

	for _, bad := range []string{"", "log:", "log:abc", "42", "entry:42", "log:-x"} {
		if _, err := parseLogRef(bad); !errors.Is(err, ErrNotFound) {
			t.Errorf("%q: err = %v, want ErrNotFound", bad, err)
		}
	}
}
