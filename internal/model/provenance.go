package model

import (
	"fmt"
	"time"
)

// ProvenanceKind tags a Provenance variant.
type ProvenanceKind string

const (
	ProvenanceNone       ProvenanceKind = "none"
	ProvenanceSplitFrom  ProvenanceKind = "split_from"
	ProvenanceSplitInto  ProvenanceKind = "split_into"
	ProvenanceMergedFrom ProvenanceKind = "merged_from"
	ProvenanceMergedInto ProvenanceKind = "merged_into"
)

// Provenance records how a window relates to the windows it came from or
// was replaced by. A nil Provenance means None.
type Provenance interface {
	Kind() ProvenanceKind
}

// SplitFrom marks a child produced by splitting Parent at At.
type SplitFrom struct {
	Parent string
	At     time.Time
}

// SplitInto marks a parent that was split into Children at At.
type SplitInto struct {
	Children []string
	At       time.Time
}

// MergedFrom marks the window produced by merging Parents.
type MergedFrom struct {
	Parents   []string
	Originals []WindowSummary
}

// MergedInto marks an input of a merge; Parent is the merged result.
type MergedInto struct {
	Parent string
}

func (SplitFrom) Kind() ProvenanceKind  { return ProvenanceSplitFrom }
func (SplitInto) Kind() ProvenanceKind  { return ProvenanceSplitInto }
func (MergedFrom) Kind() ProvenanceKind { return ProvenanceMergedFrom }
func (MergedInto) Kind() ProvenanceKind { return ProvenanceMergedInto }

// KindOf returns the kind of p, treating nil as None.
func KindOf(p Provenance) ProvenanceKind {
	if p == nil {
		return ProvenanceNone
	}
	return p.Kind()
}

// SuccessorIDs returns the ids a superseded window points forward to.
func SuccessorIDs(p Provenance) []string {
	switch v := p.(type) {
	case SplitInto:
		return v.Children
	case MergedInto:
		return []string{v.Parent}
	}
	return nil
}

// ProvenanceJSON is the tagged storage and wire form of a Provenance.
type ProvenanceJSON struct {
	Kind      ProvenanceKind  `json:"kind"`
	Parent    string          `json:"parent,omitempty"`
	Parents   []string        `json:"parents,omitempty"`
	Children  []string        `json:"children,omitempty"`
	At        *time.Time      `json:"at,omitempty"`
	Originals []WindowSummary `json:"originals,omitempty"`
}

// EncodeProvenance converts p into its tagged form. Nil stays nil.
func EncodeProvenance(p Provenance) *ProvenanceJSON {
	switch v := p.(type) {
	case nil:
		return nil
	case SplitFrom:
		at := v.At
		return &ProvenanceJSON{Kind: ProvenanceSplitFrom, Parent: v.Parent, At: &at}
	case SplitInto:
		at := v.At
		return &ProvenanceJSON{Kind: ProvenanceSplitInto, Children: v.Children, At: &at}
	case MergedFrom:
		return &ProvenanceJSON{Kind: ProvenanceMergedFrom, Parents: v.Parents, Originals: v.Originals}
	case MergedInto:
		return &ProvenanceJSON{Kind: ProvenanceMergedInto, Parent: v.Parent}
	}
	return nil
}

// DecodeProvenance converts the tagged form back into a variant.
func DecodeProvenance(p *ProvenanceJSON) (Provenance, error) {
	if p == nil {
		return nil, nil
	}
	var at time.Time
	if p.At != nil {
		at = *p.At
	}
	switch p.Kind {
	case ProvenanceNone, "":
		return nil, nil
	case ProvenanceSplitFrom:
		return SplitFrom{Parent: p.Parent, At: at}, nil
	case ProvenanceSplitInto:
		return SplitInto{Children: p.Children, At: at}, nil
	case ProvenanceMergedFrom:
		return MergedFrom{Parents: p.Parents, Originals: p.Originals}, nil
	case ProvenanceMergedInto:
		return MergedInto{Parent: p.Parent}, nil
	}
	return nil, fmt.Errorf("unknown provenance kind %q", p.Kind)
}
