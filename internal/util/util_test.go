package util

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("ses")
	if !strings.HasPrefix(id, "ses_") {
		t.Fatalf("NewID() = %q, want ses_ prefix", id)
	}
	if len(id) != len("ses_")+32 {
		t.Fatalf("NewID() length = %d", len(id))
	}
	if NewID("") == NewID("") {
		t.Fatal("NewID() returned duplicate ids")
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("Q3 Annual  Report"); got != "q3-annual--report" {
		t.Fatalf("Slug() = %q", got)
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: []string{}},
		{raw: " Finance, , Q3 ", want: []string{"finance", "q3"}},
		{raw: "a,B,c", want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := SplitTags(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitTags(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}
