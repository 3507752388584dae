package pkgset

import (
	"reflect"
	"testing"
)

func TestAppendUnions(t *testing.T) {
	a := Set{Include: []string{"luci"}, Exclude: []string{"luci-ssl"}}
	b := Set{Include: []string{"curl"}}
	got := a.Append(b).Resolve()
	want := []string{"curl", "luci"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolveExcludeWins(t *testing.T) {
	s := Set{Include: []string{"auc", "owut"}, Exclude: []string{"auc"}}
	got := s.Resolve()
	want := []string{"owut"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFromNamesSplitsRemovals(t *testing.T) {
	s := FromNames([]string{"luci", "-ppp", "curl"})
	if !reflect.DeepEqual(s.Include, []string{"luci", "curl"}) {
		t.Fatalf("unexpected include: %v", s.Include)
	}
	if !reflect.DeepEqual(s.Exclude, []string{"ppp"}) {
		t.Fatalf("unexpected exclude: %v", s.Exclude)
	}
}
