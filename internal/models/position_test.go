package models

import (
	"slices"
	"testing"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		pos     string
		want    []int
		wantErr bool
	}{
		{pos: "1", want: []int{1}},
		{pos: "1.2.3", want: []int{1, 2, 3}},
		{pos: "10.20", want: []int{10, 20}},
		{pos: "", wantErr: true},
		{pos: "1..2", wantErr: true},
		{pos: "1.a", wantErr: true},
		{pos: ".1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.pos, func(t *testing.T) {
			got, err := ParsePosition(tt.pos)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePosition(%q) = %v, want error", tt.pos, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePosition(%q) error = %v", tt.pos, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParsePosition(%q) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}

func TestComparePositions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"2", "1", 1},
		{"1.2", "1.2", 0},
		// Numeric, not lexicographic: "1.2" < "1.10"
		{"1.2", "1.10", -1},
		{"1.10", "1.9", 1},
		// A parent sorts before its children
		{"1", "1.1", -1},
		{"1.1.5", "1.2", -1},
		{"2", "1.9.9", 1},
	}

	for _, tt := range tests {
		if got := ComparePositions(tt.a, tt.b); got != tt.want {
			t.Errorf("ComparePositions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestComparePositionsSortOrder(t *testing.T) {
	positions := []string{"2", "1.10", "1", "1.2.1", "1.2", "1.9"}
	slices.SortFunc(positions, ComparePositions)

	want := []string{"1", "1.2", "1.2.1", "1.9", "1.10", "2"}
	if !slices.Equal(positions, want) {
		t.Errorf("sorted = %v, want %v", positions, want)
	}
}

func TestParentPosition(t *testing.T) {
	tests := []struct {
		pos    string
		parent string
		ok     bool
	}{
		{"1", "", false},
		{"1.2", "1", true},
		{"1.2.3", "1.2", true},
	}

	for _, tt := range tests {
		parent, ok := ParentPosition(tt.pos)
		if parent != tt.parent || ok != tt.ok {
			t.Errorf("ParentPosition(%q) = (%q, %v), want (%q, %v)", tt.pos, parent, ok, tt.parent, tt.ok)
		}
	}
}

func TestChildPosition(t *testing.T) {
	if got := ChildPosition("", 3); got != "3" {
		t.Errorf("ChildPosition(\"\", 3) = %q, want \"3\"", got)
	}
	if got := ChildPosition("1.2", 4); got != "1.2.4" {
		t.Errorf("ChildPosition(\"1.2\", 4) = %q, want \"1.2.4\"", got)
	}
}

func TestSiblingPrefix(t *testing.T) {
	if got := SiblingPrefix("1.2.3"); got != "1.2." {
		t.Errorf("SiblingPrefix(\"1.2.3\") = %q, want \"1.2.\"", got)
	}
	if got := SiblingPrefix("7"); got != "" {
		t.Errorf("SiblingPrefix(\"7\") = %q, want \"\"", got)
	}
}
