package market

import (
	"encoding/json"
	"fmt"
)

// Facet is one binary-outcome dimension a market can be wagered and voted on
type Facet uint8

const (
	FacetUnknown Facet = iota
	FacetTruthfulness
	FacetOriginality
	FacetAuthenticity
)

func (f Facet) String() string {
	switch f {
	case FacetTruthfulness:
		return "truthfulness"
	case FacetOriginality:
		return "originality"
	case FacetAuthenticity:
		return "authenticity"
	default:
		return "unknown"
	}
}

// ParseFacet maps the wire form of a facet back to the enum
func ParseFacet(s string) (Facet, error) {
	switch s {
	case "truthfulness", "Truthfulness":
		return FacetTruthfulness, nil
	case "originality", "Originality":
		return FacetOriginality, nil
	case "authenticity", "Authenticity":
		return FacetAuthenticity, nil
	default:
		return FacetUnknown, fmt.Errorf("%w: %q", ErrInvalidFacets, s)
	}
}

func (f Facet) Valid() bool {
	return f >= FacetTruthfulness && f <= FacetAuthenticity
}

func (f Facet) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Facet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFacet(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
