package carrier

import (
	"reflect"
	"testing"
)

func TestResolveTable(t *testing.T) {
	tests := []struct {
		name    string
		seen    []string
		def     string
		chosen  string
		confirm bool
		options []string
	}{
		{"no default no seen", nil, "", "", false, nil},
		{"no default seen", []string{"FastLog", "FastLog"}, "", "FastLog", true, []string{"FastLog"}},
		{"default no seen", nil, "ACME", "ACME", false, nil},
		{"all equal default", []string{"ACME"}, "ACME", "ACME", false, nil},
		{"equal ignoring case", []string{"acme", "ACME"}, "ACME", "ACME", false, nil},
		{"one differs", []string{"Other"}, "ACME", "ACME", true, []string{"ACME", "Other"}},
		{"multiple with default", []string{"X", "ACME"}, "ACME", "ACME", false, nil},
		{"multiple without default", []string{"X", "Y"}, "ACME", "ACME", true, []string{"ACME", "X", "Y"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Resolve(tc.seen, tc.def)
			if d.Chosen != tc.chosen || d.NeedsConfirmation != tc.confirm {
				t.Fatalf("Resolve() = (%q,%v), want (%q,%v)", d.Chosen, d.NeedsConfirmation, tc.chosen, tc.confirm)
			}
			if !reflect.DeepEqual(d.Options, tc.options) {
				t.Fatalf("Options = %v, want %v", d.Options, tc.options)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	names := []string{"RAPIDO CARGAS LTDA", "RAPIDO LOG", "TRANSLOG EXPRESS", "LOG"}
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"log", "LOG", true},
		{"rapido", "RAPIDO LOG", true},
		{"express", "TRANSLOG EXPRESS", true},
		{"cargas", "RAPIDO CARGAS LTDA", true},
		{"zzz", "", false},
		{"  ", "", false},
	}
	for _, tc := range tests {
		got, ok := BestMatch(tc.query, names)
		if got != tc.want || ok != tc.ok {
			t.Errorf("BestMatch(%q) = (%q,%v), want (%q,%v)", tc.query, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMerge(t *testing.T) {
	names := Merge(nil, "rapido")
	names = Merge(names, "RAPIDO LOG")
	if !reflect.DeepEqual(names, []string{"RAPIDO LOG"}) {
		t.Fatalf("more complete variant should replace: %v", names)
	}
	names = Merge(names, "Rapido")
	if !reflect.DeepEqual(names, []string{"RAPIDO LOG"}) {
		t.Fatalf("abbreviation should be dropped: %v", names)
	}
	names = Merge(names, "translog")
	names = Merge(names, "TRANSLOG")
	if !reflect.DeepEqual(names, []string{"RAPIDO LOG", "TRANSLOG"}) {
		t.Fatalf("names = %v", names)
	}
	if got := Merge(names, " "); len(got) != 2 {
		t.Fatalf("blank name changed list: %v", got)
	}
}
