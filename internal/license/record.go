package license

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Fixed byte widths of the string fields
const (
	ModelWidth          = 16
	SystemSerialWidth   = 16
	SystemSerialHAWidth = 16
	CustomerNameWidth   = 32
	CustomerKeyWidth    = 32

	// MaxAddHW is the largest number of additional hardware entries
	MaxAddHW = 127
)

// dateLayout is the on-wire form of contract_start
const dateLayout = "20060102"

// lastContractDay is the last day YYYYMMDD can express
var lastContractDay = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// maxDurationDays is the distance from 0001-01-01 to lastContractDay
const maxDurationDays = 3652058

// AddHW is one additional hardware line item
type AddHW struct {
	Quantity int8 `json:"quantity"`
	Type     int8 `json:"type"`
}

// Fields holds the raw values used to build a License
type Fields struct {
	Version          uint8
	Model            string
	SystemSerial     string
	SystemSerialHA   string
	ContractType     ContractType
	ContractHardware ContractHardware
	ContractSoftware ContractSoftware
	ContractStart    time.Time
	Duration         uint64
	CustomerName     string
	CustomerKey      string
	Features         FeatureSet
	AddHW            []AddHW
}

// License is an immutable product entitlement record.
// Build one with New; change one by editing Fields() and calling New again.
type License struct {
	version          uint8
	model            string
	systemSerial     string
	systemSerialHA   string
	contractType     ContractType
	contractHardware ContractHardware
	contractSoftware ContractSoftware
	contractStart    time.Time
	duration         uint64
	customerName     string
	customerKey      string
	features         FeatureSet
	addhw            []AddHW
}

// New validates f and returns the License it describes
func New(f Fields) (*License, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	return &License{
		version:          f.Version,
		model:            f.Model,
		systemSerial:     f.SystemSerial,
		systemSerialHA:   f.SystemSerialHA,
		contractType:     f.ContractType,
		contractHardware: f.ContractHardware,
		contractSoftware: f.ContractSoftware,
		contractStart:    civilDate(f.ContractStart),
		duration:         f.Duration,
		customerName:     f.CustomerName,
		customerKey:      f.CustomerKey,
		features:         f.Features,
		addhw:            append([]AddHW(nil), f.AddHW...),
	}, nil
}

func (f Fields) validate() error {
	if !versionSupported(f.Version) {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}

	for _, s := range []struct {
		name  string
		value string
		width int
	}{
		{"model", f.Model, ModelWidth},
		{"system_serial", f.SystemSerial, SystemSerialWidth},
		{"system_serial_ha", f.SystemSerialHA, SystemSerialHAWidth},
		{"customer_name", f.CustomerName, CustomerNameWidth},
		{"customer_key", f.CustomerKey, CustomerKeyWidth},
	} {
		if len(s.value) > s.width {
			return fmt.Errorf("%w: %s is %d bytes, max %d", ErrFieldTooLong, s.name, len(s.value), s.width)
		}
		// NUL is the padding byte and would not survive a decode
		if strings.IndexByte(s.value, 0) >= 0 {
			return fmt.Errorf("%w: %s contains a NUL byte", ErrMalformedInput, s.name)
		}
		if !utf8.ValidString(s.value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedInput, s.name)
		}
	}

	if !f.ContractType.Valid() {
		return fmt.Errorf("%w: contract type code %d", ErrUnknownEnumValue, uint8(f.ContractType))
	}
	if !f.ContractHardware.Valid() {
		return fmt.Errorf("%w: contract hardware code %d", ErrUnknownEnumValue, uint8(f.ContractHardware))
	}
	if !f.ContractSoftware.Valid() {
		return fmt.Errorf("%w: contract software code %d", ErrUnknownEnumValue, uint8(f.ContractSoftware))
	}
	if !f.Features.valid() {
		return fmt.Errorf("%w: feature mask %#x", ErrUnknownEnumValue, f.Features.mask)
	}

	if y := f.ContractStart.Year(); y < 1 || y > 9999 {
		return fmt.Errorf("%w: contract start year %d", ErrDateParse, y)
	}

	if len(f.AddHW) > MaxAddHW {
		return fmt.Errorf("%w: %d entries, max %d", ErrInvalidAddHwCount, len(f.AddHW), MaxAddHW)
	}

	return nil
}

// civilDate drops time-of-day, keeping the calendar date as seen in t's location
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date returns the calendar date y-m-d
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (l *License) Version() uint8                     { return l.version }
func (l *License) Model() string                      { return l.model }
func (l *License) SystemSerial() string               { return l.systemSerial }
func (l *License) SystemSerialHA() string             { return l.systemSerialHA }
func (l *License) ContractType() ContractType         { return l.contractType }
func (l *License) ContractHardware() ContractHardware { return l.contractHardware }
func (l *License) ContractSoftware() ContractSoftware { return l.contractSoftware }
func (l *License) ContractStart() time.Time           { return l.contractStart }
func (l *License) Duration() uint64                   { return l.duration }
func (l *License) CustomerName() string               { return l.customerName }
func (l *License) CustomerKey() string                { return l.customerKey }
func (l *License) Features() FeatureSet               { return l.features }

// AddHW returns a copy of the additional hardware entries
func (l *License) AddHW() []AddHW {
	return append([]AddHW(nil), l.addhw...)
}

// Fields returns the values l was built from
func (l *License) Fields() Fields {
	return Fields{
		Version:          l.version,
		Model:            l.model,
		SystemSerial:     l.systemSerial,
		SystemSerialHA:   l.systemSerialHA,
		ContractType:     l.contractType,
		ContractHardware: l.contractHardware,
		ContractSoftware: l.contractSoftware,
		ContractStart:    l.contractStart,
		Duration:         l.duration,
		CustomerName:     l.customerName,
		CustomerKey:      l.customerKey,
		Features:         l.features,
		AddHW:            l.AddHW(),
	}
}

// ContractEnd is contract_start plus duration days.
// It saturates at 9999-12-31.
func (l *License) ContractEnd() time.Time {
	if l.duration > maxDurationDays {
		return lastContractDay
	}
	end := l.contractStart.AddDate(0, 0, int(l.duration))
	if end.After(lastContractDay) {
		return lastContractDay
	}
	return end
}

// ExpiredOn reports whether the contract ended before the calendar date of day.
// A contract ending on day itself is not expired.
func (l *License) ExpiredOn(day time.Time) bool {
	return l.ContractEnd().Before(civilDate(day))
}

// Expired reports whether the contract has ended as of today
func (l *License) Expired() bool {
	return l.ExpiredOn(time.Now())
}

// Equal reports whether l and other hold the same values
func (l *License) Equal(other *License) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.version != other.version ||
		l.model != other.model ||
		l.systemSerial != other.systemSerial ||
		l.systemSerialHA != other.systemSerialHA ||
		l.contractType != other.contractType ||
		l.contractHardware != other.contractHardware ||
		l.contractSoftware != other.contractSoftware ||
		!l.contractStart.Equal(other.contractStart) ||
		l.duration != other.duration ||
		l.customerName != other.customerName ||
		l.customerKey != other.customerKey ||
		l.features != other.features ||
		len(l.addhw) != len(other.addhw) {
		return false
	}
	for i := range l.addhw {
		if l.addhw[i] != other.addhw[i] {
			return false
		}
	}
	return true
}

func (l *License) String() string {
	return fmt.Sprintf("License(v%d %s serial=%s type=%s start=%s duration=%d features=%s addhw=%d)",
		l.version, l.model, l.systemSerial, l.contractType,
		l.contractStart.Format(dateLayout), l.duration, l.features, len(l.addhw))
}

// View is the exported, human-facing form of a License
type View struct {
	Version          uint8     `json:"version"`
	Model            string    `json:"model"`
	SystemSerial     string    `json:"system_serial"`
	SystemSerialHA   string    `json:"system_serial_ha"`
	ContractType     string    `json:"contract_type"`
	ContractHardware string    `json:"contract_hardware"`
	ContractSoftware string    `json:"contract_software"`
	ContractStart    string    `json:"contract_start"`
	ContractEnd      string    `json:"contract_end"`
	Duration         uint64    `json:"duration"`
	CustomerName     string    `json:"customer_name"`
	CustomerKey      string    `json:"customer_key"`
	Features         []string  `json:"features"`
	AddHW            [][2]int8 `json:"addhw"`
	Expired          bool      `json:"expired"`
}

// View renders l with upper-cased symbols, as evaluated on the date of asOf
func (l *License) View(asOf time.Time) View {
	features := l.features.Features()
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = strings.ToUpper(f.String())
	}

	addhw := make([][2]int8, len(l.addhw))
	for i, hw := range l.addhw {
		addhw[i] = [2]int8{hw.Quantity, hw.Type}
	}

	return View{
		Version:          l.version,
		Model:            l.model,
		SystemSerial:     l.systemSerial,
		SystemSerialHA:   l.systemSerialHA,
		ContractType:     strings.ToUpper(l.contractType.String()),
		ContractHardware: strings.ToUpper(l.contractHardware.String()),
		ContractSoftware: strings.ToUpper(l.contractSoftware.String()),
		ContractStart:    l.contractStart.Format(dateLayout),
		ContractEnd:      l.ContractEnd().Format(dateLayout),
		Duration:         l.duration,
		CustomerName:     strings.ToUpper(l.customerName),
		CustomerKey:      strings.ToUpper(l.customerKey),
		Features:         names,
		AddHW:            addhw,
		Expired:          l.ExpiredOn(asOf),
	}
}
