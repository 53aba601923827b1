package pipeline

import (
	"testing"

	"github.com/macfound/configaudit/pkg/flatten"
)

func TestDecide(t *testing.T) {
	changed := []flatten.Record{{Parent: "a", Key: "x", Value: "2"}}

	tests := []struct {
		name            string
		changes         []flatten.Record
		previousExisted bool
		want            Decision
	}{
		{"unchanged", []flatten.Record{}, true, Decision{ShouldPersist: false, ShouldNotify: false}},
		{"changed", changed, true, Decision{ShouldPersist: true, ShouldNotify: true}},
		{"baseline", []flatten.Record{}, false, Decision{ShouldPersist: true, ShouldNotify: false}},
		{"baseline nil diff", nil, false, Decision{ShouldPersist: true, ShouldNotify: false}},
	}
	for _, tt := range tests {
		if got := Decide(tt.changes, tt.previousExisted); got != tt.want {
			t.Errorf("%s: Decide() = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}
