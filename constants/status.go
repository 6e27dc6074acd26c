package constants

import "strings"

// RawStatus is the condition a DANFE declares between asterisks (***BOM***).
type RawStatus string

const (
	RawStatusGood RawStatus = "BOM"
	RawStatusBad  RawStatus = "RUIM"
	RawStatusDOA  RawStatus = "DOA"
	// RawStatusUnknown is used when the document declares nothing.
	RawStatusUnknown RawStatus = ""
)

// ParseRawStatus uppercases and matches against the closed vocabulary.
func ParseRawStatus(s string) RawStatus {
	switch RawStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case RawStatusGood:
		return RawStatusGood
	case RawStatusBad:
		return RawStatusBad
	case RawStatusDOA:
		return RawStatusDOA
	default:
		return RawStatusUnknown
	}
}

// Resolved status tokens written to the RAT column of the minuta.
const (
	ResolvedGood = "GOOD"
	ResolvedDOA  = "DOA"
	ResolvedBad  = ""
	ResolvedNone = "-"
)

// NoOccurrence is the sentinel for line items without an occurrence code.
const NoOccurrence = "-"
