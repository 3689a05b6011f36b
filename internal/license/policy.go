package license

import "strings"

// proactiveSupportTiers are the contract types entitled to proactive support
var proactiveSupportTiers = map[string]bool{
	ContractTypeSilver.String(): true,
	ContractTypeGold.String():   true,
}

// ProactiveSupportAllowed checks if the named contract type is entitled to
// proactive support. The name is matched case-insensitively.
func ProactiveSupportAllowed(contractType string) bool {
	return proactiveSupportTiers[strings.ToLower(strings.TrimSpace(contractType))]
}

// ProactiveSupport reports whether l's contract type is entitled to proactive support
func (l *License) ProactiveSupport() bool {
	return ProactiveSupportAllowed(l.contractType.String())
}
