package database

import (
	"time"

	"appliance-license/internal/license"
)

// IssuedLicense is one row of the issuance registry
type IssuedLicense struct {
	ID               string    `json:"id" db:"id"`
	SystemSerial     string    `json:"system_serial" db:"system_serial"`
	SystemSerialHA   string    `json:"system_serial_ha" db:"system_serial_ha"`
	Model            string    `json:"model" db:"model"`
	ContractType     string    `json:"contract_type" db:"contract_type"`
	ContractHardware string    `json:"contract_hardware" db:"contract_hardware"`
	ContractSoftware string    `json:"contract_software" db:"contract_software"`
	ContractStart    time.Time `json:"contract_start" db:"contract_start"`
	ContractEnd      time.Time `json:"contract_end" db:"contract_end"`
	CustomerName     string    `json:"customer_name" db:"customer_name"`
	Features         []string  `json:"features" db:"features"`
	LicenseKey       string    `json:"license_key" db:"license_key"`
	IssuedBy         string    `json:"issued_by" db:"issued_by"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// LicenseCheck records one decode attempt against the service
type LicenseCheck struct {
	ID           string    `json:"id" db:"id"`
	SystemSerial string    `json:"system_serial" db:"system_serial"`
	RemoteAddr   string    `json:"remote_addr" db:"remote_addr"`
	Success      bool      `json:"success" db:"success"`
	ErrorCode    string    `json:"error_code" db:"error_code"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NewIssuedLicense builds the registry row for an encoded license
func NewIssuedLicense(l *license.License, key, issuedBy string) *IssuedLicense {
	features := make([]string, 0, l.Features().Len())
	for _, f := range l.Features().Features() {
		features = append(features, f.String())
	}

	return &IssuedLicense{
		SystemSerial:     l.SystemSerial(),
		SystemSerialHA:   l.SystemSerialHA(),
		Model:            l.Model(),
		ContractType:     l.ContractType().String(),
		ContractHardware: l.ContractHardware().String(),
		ContractSoftware: l.ContractSoftware().String(),
		ContractStart:    l.ContractStart(),
		ContractEnd:      l.ContractEnd(),
		CustomerName:     l.CustomerName(),
		Features:         features,
		LicenseKey:       key,
		IssuedBy:         issuedBy,
	}
}

// Decode parses the stored key back into a License
func (il *IssuedLicense) Decode() (*license.License, error) {
	return license.Decode(il.LicenseKey)
}
