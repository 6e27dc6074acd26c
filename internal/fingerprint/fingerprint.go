// Package fingerprint identifies uploaded DANFE documents and rejects
// repeats within one batch.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
)

// AccessKeyLen is the digit length of a DANFE access key.
const AccessKeyLen = 44

// keyAnchor is the label printed above the access key on a DANFE.
const keyAnchor = "CHAVE DE ACESSO"

// anchorWindow bounds how far past the anchor digits are collected.
const anchorWindow = 120

var standaloneKey = regexp.MustCompile(`(?:^|\D)(\d{44})(?:\D|$)`)

// ExtractAccessKey returns the document's 44-digit access key, if any.
// A standalone 44-digit run wins; otherwise digits following the
// "CHAVE DE ACESSO" label are collected and padded or truncated to 44.
func ExtractAccessKey(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if m := standaloneKey.FindStringSubmatch(text); m != nil {
		return m[1], true
	}

	idx := strings.Index(strings.ToUpper(text), keyAnchor)
	if idx < 0 {
		return "", false
	}
	window := text[idx+len(keyAnchor):]
	if len(window) > anchorWindow {
		window = window[:anchorWindow]
	}

	var b strings.Builder
	for _, r := range window {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == AccessKeyLen {
				break
			}
		}
	}
	digits := b.String()
	if digits == "" {
		return "", false
	}
	if len(digits) < AccessKeyLen {
		digits = strings.Repeat("0", AccessKeyLen-len(digits)) + digits
	}
	return digits, true
}

// ContentHash returns the hex sha256 digest of the raw document bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Outcome is the admission result for one document.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Verdict carries the outcome along with the identity that decided it.
type Verdict struct {
	Outcome Outcome
	Key     string // empty when no access key was found
	Hash    string
}

// Set holds the fingerprints admitted into one batch.
// The zero value is ready to use.
type Set struct {
	mu       sync.Mutex
	keys     map[string]struct{}
	hashes   map[string]struct{}
	admitted int
}

// NewSet creates an empty fingerprint set.
func NewSet() *Set {
	return &Set{}
}

// Admit decides whether a document joins the batch. A document whose key
// is present is judged by key alone; a keyless document is judged by hash.
// Extraction failures upstream should be passed as empty text.
func (s *Set) Admit(data []byte, text string) Verdict {
	key, _ := ExtractAccessKey(text)
	return s.AdmitFingerprint(key, ContentHash(data))
}

// AdmitFingerprint is Admit for callers that already hold the key and
// hash, e.g. from a cached parse. An empty key means no key was found.
func (s *Set) AdmitFingerprint(key, hash string) Verdict {
	v := Verdict{Key: key, Hash: hash}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = map[string]struct{}{}
		s.hashes = map[string]struct{}{}
	}

	if key != "" {
		if _, seen := s.keys[key]; seen {
			v.Outcome = Duplicate
			return v
		}
	} else if _, seen := s.hashes[hash]; seen {
		v.Outcome = Duplicate
		return v
	}

	if key != "" {
		s.keys[key] = struct{}{}
	}
	s.hashes[hash] = struct{}{}
	s.admitted++
	v.Outcome = Accepted
	return v
}

// Len returns how many documents have been admitted.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitted
}

// Reset clears both key and hash sets.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.hashes = nil
	s.admitted = 0
}
