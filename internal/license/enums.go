package license

import (
	"fmt"
	"sort"
	"strings"
)

// ContractType defines the entitlement tier of a licensed unit
type ContractType uint8

const (
	ContractTypeLegacy ContractType = iota
	ContractTypeStandard
	ContractTypeBronze
	ContractTypeSilver
	ContractTypeGold
	ContractTypeFreeNASCertified
	ContractTypeFreeNASMini
)

var contractTypeNames = map[ContractType]string{
	ContractTypeLegacy:           "legacy",
	ContractTypeStandard:         "standard",
	ContractTypeBronze:           "bronze",
	ContractTypeSilver:           "silver",
	ContractTypeGold:             "gold",
	ContractTypeFreeNASCertified: "freenas_certified",
	ContractTypeFreeNASMini:      "freenas_mini",
}

// ContractHardware defines the hardware service level
type ContractHardware uint8

const (
	ContractHardwareParts ContractHardware = iota
	ContractHardwareNextDay
	ContractHardwareFourHour
)

var contractHardwareNames = map[ContractHardware]string{
	ContractHardwareParts:    "parts",
	ContractHardwareNextDay:  "next_day",
	ContractHardwareFourHour: "four_hour",
}

// ContractSoftware defines the software support level
type ContractSoftware uint8

const (
	ContractSoftwareNone ContractSoftware = iota
	ContractSoftwareBusiness
	ContractSoftwareIntegral
)

var contractSoftwareNames = map[ContractSoftware]string{
	ContractSoftwareNone:     "none",
	ContractSoftwareBusiness: "business",
	ContractSoftwareIntegral: "integral",
}

// Feature is a single optional capability bit
type Feature uint32

const (
	FeatureDedup        Feature = 0x0001
	FeatureJails        Feature = 0x0002
	FeatureFibreChannel Feature = 0x0004
	FeatureVM           Feature = 0x0008
)

var featureNames = map[Feature]string{
	FeatureDedup:        "dedup",
	FeatureJails:        "jails",
	FeatureFibreChannel: "fibrechannel",
	FeatureVM:           "vm",
}

// knownFeatureMask is the union of every defined Feature bit
var knownFeatureMask = func() uint32 {
	var m uint32
	for f := range featureNames {
		m |= uint32(f)
	}
	return m
}()

// Older tooling spelled multi-word symbols without the underscore.
var nameAliases = map[string]string{
	"freenascertified": "freenas_certified",
	"freenasmini":      "freenas_mini",
	"nextday":          "next_day",
	"fourhour":         "four_hour",
}

func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := nameAliases[n]; ok {
		return alias
	}
	return n
}

func (t ContractType) String() string {
	if name, ok := contractTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ContractType(%d)", uint8(t))
}

// Valid reports whether t is one of the defined contract types
func (t ContractType) Valid() bool {
	_, ok := contractTypeNames[t]
	return ok
}

func (h ContractHardware) String() string {
	if name, ok := contractHardwareNames[h]; ok {
		return name
	}
	return fmt.Sprintf("ContractHardware(%d)", uint8(h))
}

// Valid reports whether h is one of the defined hardware levels
func (h ContractHardware) Valid() bool {
	_, ok := contractHardwareNames[h]
	return ok
}

func (s ContractSoftware) String() string {
	if name, ok := contractSoftwareNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ContractSoftware(%d)", uint8(s))
}

// Valid reports whether s is one of the defined software levels
func (s ContractSoftware) Valid() bool {
	_, ok := contractSoftwareNames[s]
	return ok
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Feature(%#x)", uint32(f))
}

// Valid reports whether f is exactly one defined feature bit
func (f Feature) Valid() bool {
	_, ok := featureNames[f]
	return ok
}

// ParseContractType resolves a contract type by name, case-insensitively
func ParseContractType(name string) (ContractType, error) {
	n := normalizeName(name)
	for t, tn := range contractTypeNames {
		if tn == n {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: contract type %q", ErrUnknownEnumValue, name)
}

// ParseContractHardware resolves a hardware level by name, case-insensitively
func ParseContractHardware(name string) (ContractHardware, error) {
	n := normalizeName(name)
	for h, hn := range contractHardwareNames {
		if hn == n {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: contract hardware %q", ErrUnknownEnumValue, name)
}

// ParseContractSoftware resolves a software level by name, case-insensitively
func ParseContractSoftware(name string) (ContractSoftware, error) {
	n := normalizeName(name)
	for s, sn := range contractSoftwareNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: contract software %q", ErrUnknownEnumValue, name)
}

// ParseFeature resolves a feature flag by name, case-insensitively
func ParseFeature(name string) (Feature, error) {
	n := normalizeName(name)
	for f, fn := range featureNames {
		if fn == n {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: feature %q", ErrUnknownEnumValue, name)
}

func contractTypeFromCode(code byte) (ContractType, error) {
	t := ContractType(code)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: contract type code %d", ErrUnknownEnumValue, code)
	}
	return t, nil
}

func contractHardwareFromCode(code byte) (ContractHardware, error) {
	h := ContractHardware(code)
	if !h.Valid() {
		return 0, fmt.Errorf("%w: contract hardware code %d", ErrUnknownEnumValue, code)
	}
	return h, nil
}

func contractSoftwareFromCode(code byte) (ContractSoftware, error) {
	s := ContractSoftware(code)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: contract software code %d", ErrUnknownEnumValue, code)
	}
	return s, nil
}

// FeatureSet is an immutable set of Feature flags
type FeatureSet struct {
	mask uint32
}

// NewFeatureSet builds a set from the given flags. Duplicates collapse.
func NewFeatureSet(features ...Feature) FeatureSet {
	var fs FeatureSet
	for _, f := range features {
		fs.mask |= uint32(f)
	}
	return fs
}

// featureSetFromMask keeps only the defined bits of mask
func featureSetFromMask(mask uint32) FeatureSet {
	return FeatureSet{mask: mask & knownFeatureMask}
}

// Add returns a new set that also contains f
func (fs FeatureSet) Add(f Feature) FeatureSet {
	return FeatureSet{mask: fs.mask | uint32(f)}
}

// Union returns the set of flags present in either set
func (fs FeatureSet) Union(other FeatureSet) FeatureSet {
	return FeatureSet{mask: fs.mask | other.mask}
}

// Has reports whether every bit of f is set
func (fs FeatureSet) Has(f Feature) bool {
	return f != 0 && fs.mask&uint32(f) == uint32(f)
}

// Len returns the number of flags in the set
func (fs FeatureSet) Len() int {
	return len(fs.Features())
}

// Features returns the members ordered by bit value
func (fs FeatureSet) Features() []Feature {
	var out []Feature
	for f := range featureNames {
		if fs.mask&uint32(f) != 0 {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// valid reports whether only defined bits are present
func (fs FeatureSet) valid() bool {
	return fs.mask&^knownFeatureMask == 0
}

func (fs FeatureSet) String() string {
	features := fs.Features()
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
