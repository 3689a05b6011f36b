package license

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestExpiryBoundary(t *testing.T) {
	f := scenarioFields()
	f.Duration = 0
	l := mustNew(t, f)

	if !l.ContractEnd().Equal(Date(2024, 1, 1)) {
		t.Fatalf("ContractEnd = %s, want 2024-01-01", l.ContractEnd())
	}
	if l.ExpiredOn(Date(2024, 1, 1)) {
		t.Error("expired on the contract end date")
	}
	if !l.ExpiredOn(Date(2024, 1, 2)) {
		t.Error("not expired the day after the contract end date")
	}
	if l.ExpiredOn(time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC)) {
		t.Error("time of day must not affect expiry")
	}
}

func TestExpiryUsesCalendarDateOfZone(t *testing.T) {
	f := scenarioFields()
	f.Duration = 0
	l := mustNew(t, f)

	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-01-01 20:00 UTC is already 2024-01-02 in Tokyo.
	if !l.ExpiredOn(time.Date(2024, 1, 2, 5, 0, 0, 0, tokyo)) {
		t.Error("expected expiry on the local calendar date")
	}
}

func TestContractEnd(t *testing.T) {
	tests := []struct {
		start    time.Time
		duration uint64
		want     time.Time
	}{
		{Date(2024, 1, 1), 300, Date(2024, 10, 27)},
		{Date(2024, 2, 28), 1, Date(2024, 2, 29)},
		{Date(2023, 12, 31), 366, Date(2024, 12, 31)},
		{Date(9999, 12, 30), 5, Date(9999, 12, 31)},
		{Date(2024, 1, 1), ^uint64(0), Date(9999, 12, 31)},
	}

	for _, tt := range tests {
		f := scenarioFields()
		f.ContractStart = tt.start
		f.Duration = tt.duration
		if got := mustNew(t, f).ContractEnd(); !got.Equal(tt.want) {
			t.Errorf("ContractEnd(%s + %d) = %s, want %s", tt.start.Format("2006-01-02"), tt.duration, got, tt.want)
		}
	}
}

func TestContractStartDropsTimeOfDay(t *testing.T) {
	f := scenarioFields()
	f.ContractStart = time.Date(2024, 3, 5, 17, 45, 0, 0, time.FixedZone("X", -5*3600))
	l := mustNew(t, f)

	if !l.ContractStart().Equal(Date(2024, 3, 5)) {
		t.Errorf("ContractStart = %s, want 2024-03-05", l.ContractStart())
	}
}

func TestLicenseIsImmutable(t *testing.T) {
	f := scenarioFields()
	l := mustNew(t, f)

	f.AddHW[0].Quantity = 99
	hw := l.AddHW()
	hw[0].Quantity = 42

	if got := l.AddHW()[0].Quantity; got != 5 {
		t.Errorf("AddHW()[0].Quantity = %d, want 5", got)
	}

	edited := l.Fields()
	edited.CustomerName = "Other"
	l2 := mustNew(t, edited)
	if l.CustomerName() != "ACME" || l2.CustomerName() != "Other" {
		t.Error("editing Fields() altered the original license")
	}
	if l.Equal(l2) {
		t.Error("licenses with different customers compare equal")
	}
}

func TestView(t *testing.T) {
	f := scenarioFields()
	f.ContractHardware = ContractHardwareNextDay
	f.Features = NewFeatureSet(FeatureVM, FeatureDedup)
	l := mustNew(t, f)

	v := l.View(Date(2024, 6, 1))
	if v.ContractType != "BRONZE" || v.ContractHardware != "NEXT_DAY" || v.ContractSoftware != "NONE" {
		t.Errorf("enum names = %s/%s/%s", v.ContractType, v.ContractHardware, v.ContractSoftware)
	}
	if v.CustomerName != "ACME" || v.ContractStart != "20240101" || v.ContractEnd != "20241027" {
		t.Errorf("view = %+v", v)
	}
	if len(v.Features) != 2 || v.Features[0] != "DEDUP" || v.Features[1] != "VM" {
		t.Errorf("Features = %v, want [DEDUP VM]", v.Features)
	}
	if v.Expired {
		t.Error("view reports expired before contract end")
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	addhw, ok := decoded["addhw"].([]interface{})
	if !ok || len(addhw) != 1 {
		t.Fatalf("addhw = %v, want one pair", decoded["addhw"])
	}
	if pair, ok := addhw[0].([]interface{}); !ok || len(pair) != 2 || pair[0].(float64) != 5 {
		t.Errorf("addhw[0] = %v, want [5 1]", addhw[0])
	}
}

func TestParseEnums(t *testing.T) {
	if ct, err := ParseContractType("GOLD"); err != nil || ct != ContractTypeGold {
		t.Errorf("ParseContractType(GOLD) = %v, %v", ct, err)
	}
	if ct, err := ParseContractType("freenascertified"); err != nil || ct != ContractTypeFreeNASCertified {
		t.Errorf("ParseContractType(freenascertified) = %v, %v", ct, err)
	}
	if ct, err := ParseContractType("FreeNAS_Mini"); err != nil || ct != ContractTypeFreeNASMini {
		t.Errorf("ParseContractType(FreeNAS_Mini) = %v, %v", ct, err)
	}
	if _, err := ParseContractType("silverinternational"); !errors.Is(err, ErrUnknownEnumValue) {
		t.Errorf("ParseContractType(silverinternational) error = %v", err)
	}
	if h, err := ParseContractHardware("fourhour"); err != nil || h != ContractHardwareFourHour {
		t.Errorf("ParseContractHardware(fourhour) = %v, %v", h, err)
	}
	if s, err := ParseContractSoftware(" Business "); err != nil || s != ContractSoftwareBusiness {
		t.Errorf("ParseContractSoftware(Business) = %v, %v", s, err)
	}
	if f, err := ParseFeature("FibreChannel"); err != nil || f != FeatureFibreChannel {
		t.Errorf("ParseFeature(FibreChannel) = %v, %v", f, err)
	}
	if _, err := ParseFeature("raid"); !errors.Is(err, ErrUnknownEnumValue) {
		t.Errorf("ParseFeature(raid) error = %v", err)
	}
}

func TestEnumCodes(t *testing.T) {
	for code := 0; code < 256; code++ {
		_, err := contractTypeFromCode(byte(code))
		if (code <= 6) != (err == nil) {
			t.Errorf("contractTypeFromCode(%d) error = %v", code, err)
		}
		_, err = contractHardwareFromCode(byte(code))
		if (code <= 2) != (err == nil) {
			t.Errorf("contractHardwareFromCode(%d) error = %v", code, err)
		}
		_, err = contractSoftwareFromCode(byte(code))
		if (code <= 2) != (err == nil) {
			t.Errorf("contractSoftwareFromCode(%d) error = %v", code, err)
		}
	}
}

func TestFeatureSet(t *testing.T) {
	fs := NewFeatureSet(FeatureDedup, FeatureDedup)
	if fs.Len() != 1 {
		t.Errorf("Len = %d, want 1", fs.Len())
	}
	if fs.Has(FeatureJails) {
		t.Error("Has(jails) on {dedup}")
	}
	u := fs.Union(NewFeatureSet(FeatureJails))
	if !u.Has(FeatureDedup) || !u.Has(FeatureJails) || u.Len() != 2 {
		t.Errorf("Union = %s", u)
	}
	if fs.Has(FeatureJails) {
		t.Error("Union mutated the receiver")
	}
	if u.String() != "{dedup,jails}" {
		t.Errorf("String = %q", u.String())
	}
	if (FeatureSet{}).Has(0) {
		t.Error("empty set Has(0)")
	}
}
