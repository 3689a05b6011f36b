package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"appliance-license/internal/auth"
	"appliance-license/internal/issuer"
	"appliance-license/internal/license"
	"appliance-license/internal/logging"
)

// LicenseRequest is the JSON form of license fields. Enum and feature values
// are names; contract_start is YYYY-MM-DD or YYYYMMDD and defaults to today.
// A missing duration takes the issuer default, an explicit 0 is kept.
type LicenseRequest struct {
	Version          uint8     `json:"version"`
	Model            string    `json:"model"`
	SystemSerial     string    `json:"system_serial" binding:"required"`
	SystemSerialHA   string    `json:"system_serial_ha"`
	ContractType     string    `json:"contract_type" binding:"required"`
	ContractHardware string    `json:"contract_hardware" binding:"required"`
	ContractSoftware string    `json:"contract_software" binding:"required"`
	ContractStart    string    `json:"contract_start"`
	Duration         *uint64   `json:"duration"`
	CustomerName     string    `json:"customer_name"`
	CustomerKey      string    `json:"customer_key"`
	Features         []string  `json:"features"`
	AddHW            [][2]int8 `json:"addhw"`
}

// DecodeRequest carries a base64 license key
type DecodeRequest struct {
	Key string `json:"key" binding:"required"`
}

// Fields converts the request into license fields
func (r LicenseRequest) Fields(defaultDuration uint64) (license.Fields, error) {
	ctype, err := license.ParseContractType(r.ContractType)
	if err != nil {
		return license.Fields{}, err
	}
	hw, err := license.ParseContractHardware(r.ContractHardware)
	if err != nil {
		return license.Fields{}, err
	}
	sw, err := license.ParseContractSoftware(r.ContractSoftware)
	if err != nil {
		return license.Fields{}, err
	}

	var features license.FeatureSet
	for _, name := range r.Features {
		f, err := license.ParseFeature(name)
		if err != nil {
			return license.Fields{}, err
		}
		features = features.Add(f)
	}

	start, err := parseStartDate(r.ContractStart)
	if err != nil {
		return license.Fields{}, err
	}

	duration := defaultDuration
	if r.Duration != nil {
		duration = *r.Duration
	}

	var addhw []license.AddHW
	for _, pair := range r.AddHW {
		addhw = append(addhw, license.AddHW{Quantity: pair[0], Type: pair[1]})
	}

	return license.Fields{
		Version:          r.Version,
		Model:            r.Model,
		SystemSerial:     r.SystemSerial,
		SystemSerialHA:   r.SystemSerialHA,
		ContractType:     ctype,
		ContractHardware: hw,
		ContractSoftware: sw,
		ContractStart:    start,
		Duration:         duration,
		CustomerName:     r.CustomerName,
		CustomerKey:      r.CustomerKey,
		Features:         features,
		AddHW:            addhw,
	}, nil
}

func parseStartDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: contract_start %q", license.ErrDateParse, s)
}

// licenseError maps codec and lookup errors onto HTTP responses
func licenseError(c *gin.Context, err error) {
	if code := license.CodeOf(err); code != "" {
		errorResponse(c, http.StatusBadRequest, code, err.Error())
		return
	}
	if errors.Is(err, issuer.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	logging.FromContext(c.Request.Context()).WithError(err).Error("License request failed")
	errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}

func bindError(c *gin.Context, err error) {
	errorResponse(c, http.StatusBadRequest, license.ErrMalformedInput.Code, err.Error())
}

// handleDecodeLicense decodes a license key into its view
func (s *Server) handleDecodeLicense(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	l, err := s.service.Decode(c.Request.Context(), req.Key, c.ClientIP())
	if err != nil {
		licenseError(c, err)
		return
	}

	successResponse(c, http.StatusOK, gin.H{
		"license":           l.View(s.service.Now()),
		"proactive_support": l.ProactiveSupport(),
	})
}

// handleEncodeLicense encodes fields into a key without recording it
func (s *Server) handleEncodeLicense(c *gin.Context) {
	var req LicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	f, err := req.Fields(s.service.DefaultDuration())
	if err != nil {
		licenseError(c, err)
		return
	}

	l, key, err := s.service.Encode(f)
	if err != nil {
		licenseError(c, err)
		return
	}

	successResponse(c, http.StatusOK, gin.H{
		"license_key": key,
		"license":     l.View(s.service.Now()),
	})
}

// handleIssueLicense encodes, records and escrows a new license
func (s *Server) handleIssueLicense(c *gin.Context) {
	var req LicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	f, err := req.Fields(s.service.DefaultDuration())
	if err != nil {
		licenseError(c, err)
		return
	}

	issuedBy := auth.GetOperatorID(c)
	if issuedBy == "" {
		issuedBy = "anonymous"
	}

	issued, err := s.service.Issue(c.Request.Context(), f, issuedBy)
	if err != nil {
		licenseError(c, err)
		return
	}

	successResponse(c, http.StatusCreated, gin.H{
		"id":          issued.Record.ID,
		"license_key": issued.Record.LicenseKey,
		"license":     issued.License.View(s.service.Now()),
	})
}

// handleGetLicense returns the latest license issued to a serial
func (s *Server) handleGetLicense(c *gin.Context) {
	il, err := s.service.Lookup(c.Request.Context(), c.Param("serial"))
	if err != nil {
		licenseError(c, err)
		return
	}

	// A stored key that does not decode is a server fault
	l, err := il.Decode()
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).
			WithField("system_serial", il.SystemSerial).Error("Stored license key does not decode")
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "stored license key is corrupt")
		return
	}

	successResponse(c, http.StatusOK, gin.H{
		"record":  il,
		"license": l.View(s.service.Now()),
	})
}

// handleListLicenses pages through issued licenses
func (s *Server) handleListLicenses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(issuer.DefaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, total, err := s.service.List(c.Request.Context(), c.Query("contract_type"), limit, offset)
	if err != nil {
		licenseError(c, err)
		return
	}

	successResponse(c, http.StatusOK, gin.H{
		"licenses": rows,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleProactiveSupport reports whether a contract type gets proactive support
func (s *Server) handleProactiveSupport(c *gin.Context) {
	ctype := c.Param("type")
	c.JSON(http.StatusOK, gin.H{
		"contract_type": ctype,
		"allowed":       license.ProactiveSupportAllowed(ctype),
	})
}
