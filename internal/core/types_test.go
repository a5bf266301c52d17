package core

import (
	"errors"
	"testing"
)

func TestFieldsOrderAndAppend(t *testing.T) {
	var f Fields
	f.Set("name", "demo")
	f.Append("classifiers", "A")
	f.Set("version", "1.0")
	f.Append("classifiers", "B")
	f.Set("name", "demo2")

	want := []string{"name", "classifiers", "version"}
	got := f.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if f.Get("name") != "demo2" {
		t.Errorf("Get(name) = %q, want demo2", f.Get("name"))
	}
	if f.Get("classifiers") != "A\nB" {
		t.Errorf("Get(classifiers) = %q", f.Get("classifiers"))
	}

	f.Delete("classifiers")
	if f.Len() != 2 {
		t.Errorf("Len() after Delete = %d, want 2", f.Len())
	}
}

func TestFieldsCloneIsDeep(t *testing.T) {
	f := NewFields()
	f.Put("classifiers", List("A"))
	c := f.Clone()
	c.Append("classifiers", "B")

	if len(f.Items("classifiers")) != 1 {
		t.Errorf("original mutated: %v", f.Items("classifiers"))
	}
}

func TestFieldsMap(t *testing.T) {
	f := NewFields()
	f.Set("name", "demo")
	f.Put("requires", List("six"))

	m := f.Map()
	if m["name"] != "demo" {
		t.Errorf("name = %v", m["name"])
	}
	if reqs, ok := m["requires"].([]string); !ok || len(reqs) != 1 {
		t.Errorf("requires = %#v", m["requires"])
	}
}

func TestValueEmpty(t *testing.T) {
	if !(Value{}).Empty() || !List("", "").Empty() {
		t.Error("expected empty")
	}
	if Scalar("x").Empty() {
		t.Error("expected non-empty")
	}
}

func TestParseFiletype(t *testing.T) {
	for _, ft := range Filetypes {
		got, err := ParseFiletype(" " + string(ft) + " ")
		if err != nil || got != ft {
			t.Errorf("ParseFiletype(%q) = %q, %v", ft, got, err)
		}
	}

	_, err := ParseFiletype("bdist_deb")
	var unsupported *UnsupportedPayloadError
	if !errors.As(err, &unsupported) {
		t.Errorf("ParseFiletype(bdist_deb) error = %v, want UnsupportedPayloadError", err)
	}
}

func TestNotFoundErrorMessages(t *testing.T) {
	tests := []struct {
		err  *NotFoundError
		want string
	}{
		{&NotFoundError{Name: "a"}, "package a not found"},
		{&NotFoundError{Name: "a", Version: "1"}, "package a version 1 not found"},
		{&NotFoundError{Name: "a", Field: "f"}, "package a has no field f"},
		{&NotFoundError{Name: "a", Version: "1", Field: "f"}, "package a version 1 has no field f"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if !errors.Is(tt.err, ErrNotFound) {
			t.Errorf("%v does not match ErrNotFound", tt.err)
		}
	}
}
