// Package license encodes and decodes the fixed-layout appliance license record
// and its base64 key form.
package license

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// CurrentVersion is the wire format written by Marshal
const CurrentVersion uint8 = 1

// Version 1 layout. Multi-byte integers are little-endian.
const (
	offVersion          = 0
	offModel            = offVersion + 1
	offSystemSerial     = offModel + ModelWidth
	offSystemSerialHA   = offSystemSerial + SystemSerialWidth
	offContractType     = offSystemSerialHA + SystemSerialHAWidth
	offContractSoftware = offContractType + 1
	offContractHardware = offContractSoftware + 1
	offContractStart    = offContractHardware + 1
	offDuration         = offContractStart + len(dateLayout)
	offCustomerName     = offDuration + 8
	offCustomerKey      = offCustomerName + CustomerNameWidth
	offFeatures         = offCustomerKey + CustomerKeyWidth
	offAddHWCount       = offFeatures + 4

	// HeaderSize is the fixed part of a version 1 license, in bytes
	HeaderSize = offAddHWCount + 1

	addHWSize = 2
)

type format struct {
	marshal   func(l *License) []byte
	unmarshal func(data []byte) (*License, error)
}

// formats maps a version byte to its layout
var formats map[uint8]format

func init() {
	formats = map[uint8]format{
		1: {marshal: marshalV1, unmarshal: unmarshalV1},
	}
}

func versionSupported(v uint8) bool {
	_, ok := formats[v]
	return ok
}

// Marshal returns the raw wire bytes of l
func Marshal(l *License) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil license", ErrMalformedInput)
	}
	if err := l.Fields().validate(); err != nil {
		return nil, err
	}
	return formats[l.version].marshal(l), nil
}

// Encode returns l as a base64 license key
func Encode(l *License) (string, error) {
	raw, err := Marshal(l)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Unmarshal parses raw wire bytes into a License
func Unmarshal(data []byte) (*License, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidLength)
	}
	f, ok := formats[data[offVersion]]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[offVersion])
	}
	return f.unmarshal(data)
}

// Decode parses a base64 license key. Surrounding whitespace is ignored.
func Decode(key string) (*License, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return Unmarshal(raw)
}

func marshalV1(l *License) []byte {
	buf := make([]byte, HeaderSize+addHWSize*len(l.addhw))

	buf[offVersion] = l.version
	copy(buf[offModel:offSystemSerial], l.model)
	copy(buf[offSystemSerial:offSystemSerialHA], l.systemSerial)
	copy(buf[offSystemSerialHA:offContractType], l.systemSerialHA)
	buf[offContractType] = byte(l.contractType)
	buf[offContractSoftware] = byte(l.contractSoftware)
	buf[offContractHardware] = byte(l.contractHardware)
	copy(buf[offContractStart:offDuration], l.contractStart.Format(dateLayout))
	binary.LittleEndian.PutUint64(buf[offDuration:offCustomerName], l.duration)
	copy(buf[offCustomerName:offCustomerKey], l.customerName)
	copy(buf[offCustomerKey:offFeatures], l.customerKey)
	binary.LittleEndian.PutUint32(buf[offFeatures:offAddHWCount], l.features.mask)
	buf[offAddHWCount] = byte(len(l.addhw))

	for i, hw := range l.addhw {
		off := HeaderSize + i*addHWSize
		buf[off] = byte(hw.Quantity)
		buf[off+1] = byte(hw.Type)
	}

	return buf
}

func unmarshalV1(data []byte) (*License, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrInvalidLength, len(data), HeaderSize)
	}

	var (
		f   = Fields{Version: data[offVersion]}
		err error
	)

	strs := []struct {
		name string
		dst  *string
		raw  []byte
	}{
		{"model", &f.Model, data[offModel:offSystemSerial]},
		{"system_serial", &f.SystemSerial, data[offSystemSerial:offSystemSerialHA]},
		{"system_serial_ha", &f.SystemSerialHA, data[offSystemSerialHA:offContractType]},
		{"customer_name", &f.CustomerName, data[offCustomerName:offCustomerKey]},
		{"customer_key", &f.CustomerKey, data[offCustomerKey:offFeatures]},
	}
	for _, s := range strs {
		if *s.dst, err = fixedString(s.name, s.raw); err != nil {
			return nil, err
		}
	}

	if f.ContractType, err = contractTypeFromCode(data[offContractType]); err != nil {
		return nil, err
	}
	if f.ContractSoftware, err = contractSoftwareFromCode(data[offContractSoftware]); err != nil {
		return nil, err
	}
	if f.ContractHardware, err = contractHardwareFromCode(data[offContractHardware]); err != nil {
		return nil, err
	}
	if f.ContractStart, err = parseDate(data[offContractStart:offDuration]); err != nil {
		return nil, err
	}

	f.Duration = binary.LittleEndian.Uint64(data[offDuration:offCustomerName])
	f.Features = featureSetFromMask(binary.LittleEndian.Uint32(data[offFeatures:offAddHWCount]))

	count := int(data[offAddHWCount])
	if count > MaxAddHW {
		return nil, fmt.Errorf("%w: header declares %d entries, max %d", ErrInvalidAddHwCount, count, MaxAddHW)
	}
	rest := data[HeaderSize:]
	if len(rest) != count*addHWSize {
		return nil, fmt.Errorf("%w: %d trailing bytes for %d hardware entries", ErrInvalidLength, len(rest), count)
	}
	if count > 0 {
		f.AddHW = make([]AddHW, count)
		for i := range f.AddHW {
			f.AddHW[i] = AddHW{
				Quantity: int8(rest[i*addHWSize]),
				Type:     int8(rest[i*addHWSize+1]),
			}
		}
	}

	return New(f)
}

// fixedString strips the zero padding of a fixed-width field
func fixedString(name string, raw []byte) (string, error) {
	trimmed := bytes.TrimRight(raw, "\x00")
	if !utf8.Valid(trimmed) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedInput, name)
	}
	return string(trimmed), nil
}

// parseDate reads a strict ASCII YYYYMMDD date
func parseDate(raw []byte) (time.Time, error) {
	for _, c := range raw {
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("%w: %q is not YYYYMMDD", ErrDateParse, raw)
		}
	}
	t, err := time.Parse(dateLayout, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrDateParse, raw, err)
	}
	if t.Year() < 1 {
		return time.Time{}, fmt.Errorf("%w: %q has year zero", ErrDateParse, raw)
	}
	return t, nil
}
