package parser

import (
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
)

func TestParse(t *testing.T) {
	p := New(textnorm.New(false))
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"simple", "red car", []string{"red", "car"}},
		{"case and punctuation", "Red, CAR!", []string{"red", "car"}},
		{"repeated terms", "car car red car", []string{"car", "red"}},
		{"single letter", "c", []string{"c"}},
		{"stop words only", "the and of", []string{}},
		{"blank", "   ", []string{}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.Parse(tt.query)
			if !reflect.DeepEqual(plan.Terms, tt.want) {
				t.Errorf("Parse(%q).Terms = %q, want %q", tt.query, plan.Terms, tt.want)
			}
			if plan.Empty() != (len(tt.want) == 0) {
				t.Errorf("Empty() = %v", plan.Empty())
			}
			if plan.RawQuery != tt.query {
				t.Errorf("RawQuery = %q", plan.RawQuery)
			}
		})
	}
}

func TestParse_Stemming(t *testing.T) {
	p := New(textnorm.New(true))
	plan := p.Parse("running runs")
	if !reflect.DeepEqual(plan.Terms, []string{"run"}) {
		t.Errorf("Terms = %q, want [run]", plan.Terms)
	}
}

func TestKey_OrderInsensitive(t *testing.T) {
	p := New(textnorm.New(false))
	a := p.Parse("red car").Key()
	b := p.Parse("car RED red").Key()
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a == p.Parse("red bus").Key() {
		t.Error("different queries share a key")
	}
}
