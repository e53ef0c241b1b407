package trust

import "encoding/json"

// Tier is the ordered trust classification derived from a score. It is a
// pure function of the numeric score: two equal scores always map to the
// same tier.
type Tier int

const (
	TierUntrusted Tier = iota
	TierLimited
	TierTrusted
	TierVerified
	TierTrustedPlus
)

// Fixed tier thresholds. Comparisons are >=, highest matching tier wins.
const (
	ThresholdLimited     = 4.0
	ThresholdTrusted     = 6.0
	ThresholdVerified    = 7.5
	ThresholdTrustedPlus = 9.0
)

// TierForScore derives the tier for a composite score.
func TierForScore(score float64) Tier {
	switch {
	case score >= ThresholdTrustedPlus:
		return TierTrustedPlus
	case score >= ThresholdVerified:
		return TierVerified
	case score >= ThresholdTrusted:
		return TierTrusted
	case score >= ThresholdLimited:
		return TierLimited
	default:
		return TierUntrusted
	}
}

// String returns the wire label for the tier.
func (t Tier) String() string {
	switch t {
	case TierTrustedPlus:
		return "trusted-plus"
	case TierVerified:
		return "verified"
	case TierTrusted:
		return "trusted"
	case TierLimited:
		return "limited"
	default:
		return "untrusted"
	}
}

// MarshalJSON encodes the tier as its string label.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its string label.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	switch label {
	case "trusted-plus":
		*t = TierTrustedPlus
	case "verified":
		*t = TierVerified
	case "trusted":
		*t = TierTrusted
	case "limited":
		*t = TierLimited
	default:
		*t = TierUntrusted
	}
	return nil
}
