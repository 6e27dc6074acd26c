// Package carrier decides which carrier name is stamped on a minuta.
package carrier

import (
	"sort"
	"strings"
)

// Decision is the outcome of reconciling the carriers seen in a batch
// with the requester's default.
type Decision struct {
	Chosen            string
	NeedsConfirmation bool
	// Options are the names offered when confirmation is needed, the
	// suggested one first.
	Options []string
}

// Resolve applies the reconciliation table; the first matching rule wins.
// Names are compared case-insensitively.
func Resolve(seen []string, def string) Decision {
	seen = distinct(seen)
	def = strings.TrimSpace(def)

	if def == "" {
		if len(seen) == 0 {
			return Decision{}
		}
		return Decision{Chosen: seen[0], NeedsConfirmation: true, Options: seen}
	}

	if len(seen) == 0 {
		return Decision{Chosen: def}
	}
	if len(seen) == 1 {
		if strings.EqualFold(seen[0], def) {
			return Decision{Chosen: def}
		}
		return Decision{Chosen: def, NeedsConfirmation: true, Options: []string{def, seen[0]}}
	}
	if contains(seen, def) {
		return Decision{Chosen: def}
	}
	return Decision{Chosen: def, NeedsConfirmation: true, Options: append([]string{def}, seen...)}
}

func distinct(names []string) []string {
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" && !contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// BestMatch finds the directory name a free-text query most likely means:
// exact match first, then prefix, then substring; the shortest candidate
// wins among several.
func BestMatch(query string, names []string) (string, bool) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" || len(names) == 0 {
		return "", false
	}
	for _, n := range names {
		if strings.ToUpper(n) == q {
			return n, true
		}
	}
	if n, ok := shortest(names, func(up string) bool { return strings.HasPrefix(up, q) }); ok {
		return n, true
	}
	return shortest(names, func(up string) bool { return strings.Contains(up, q) })
}

func shortest(names []string, match func(string) bool) (string, bool) {
	var cands []string
	for _, n := range names {
		if match(strings.ToUpper(n)) {
			cands = append(cands, n)
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i]) < len(cands[j]) })
	return cands[0], true
}

// Merge adds name to the directory list, uppercased. A name that extends
// an existing entry replaces it; a name already covered by a longer entry
// is dropped.
func Merge(names []string, name string) []string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return names
	}

	keep := make([]string, 0, len(names)+1)
	add := true
	for _, existing := range names {
		e := strings.ToUpper(strings.TrimSpace(existing))
		switch {
		case e == "":
			continue
		case e == name:
			add = false
		case strings.Contains(name, e) && len(name) > len(e):
			continue
		case strings.Contains(e, name) && len(e) > len(name):
			add = false
		}
		keep = append(keep, e)
	}
	if add {
		keep = append(keep, name)
	}
	return keep
}
