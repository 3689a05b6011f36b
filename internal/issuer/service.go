// Package issuer issues, stores and decodes appliance license keys.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appliance-license/internal/cache"
	"appliance-license/internal/database"
	"appliance-license/internal/events"
	"appliance-license/internal/license"
	"appliance-license/internal/logging"
	"appliance-license/internal/vault"
)

// ErrNotFound is returned when no license has been issued to a serial
var ErrNotFound = errors.New("no license issued for serial")

// Default and maximum page sizes for List
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Cache is the read-through cache in front of the registry. *cache.LicenseCache satisfies it.
type Cache interface {
	Get(ctx context.Context, serial string) (*database.IssuedLicense, error)
	Set(ctx context.Context, il *database.IssuedLicense) error
	Invalidate(ctx context.Context, serial string) error
}

// Escrow keeps a copy of every issued key. *vault.Client satisfies it.
type Escrow interface {
	StoreLicenseKey(ctx context.Context, key vault.EscrowedKey) error
	GetLicenseKey(ctx context.Context, serial string) (*vault.EscrowedKey, error)
}

// Options configures a Service. Only Registry is required.
type Options struct {
	Registry            Registry
	Cache               Cache
	Escrow              Escrow
	Bus                 *events.EventBus
	DefaultDurationDays uint64
}

// Service ties the codec to the registry, cache, escrow and event bus
type Service struct {
	registry        Registry
	cache           Cache
	escrow          Escrow
	bus             *events.EventBus
	defaultDuration uint64
	now             func() time.Time
}

// Issued is the result of issuing a license
type Issued struct {
	Record  *database.IssuedLicense
	License *license.License
}

// NewService creates a Service
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("issuer requires a registry")
	}
	return &Service{
		registry:        opts.Registry,
		cache:           opts.Cache,
		escrow:          opts.Escrow,
		bus:             opts.Bus,
		defaultDuration: opts.DefaultDurationDays,
		now:             time.Now,
	}, nil
}

// DefaultDuration is the contract length in days used when a request names none
func (s *Service) DefaultDuration() uint64 {
	return s.defaultDuration
}

// withDefaults fills the version and start date when they are left out.
// Duration is taken as given, 0 is a valid contract length.
func (s *Service) withDefaults(f license.Fields) license.Fields {
	if f.Version == 0 {
		f.Version = license.CurrentVersion
	}
	if f.ContractStart.IsZero() {
		now := s.now().UTC()
		f.ContractStart = license.Date(now.Year(), now.Month(), now.Day())
	}
	return f
}

// Encode builds and encodes a license without recording it
func (s *Service) Encode(f license.Fields) (*license.License, string, error) {
	l, err := license.New(s.withDefaults(f))
	if err != nil {
		s.rejected("encode", err)
		return nil, "", err
	}
	key, err := license.Encode(l)
	if err != nil {
		s.rejected("encode", err)
		return nil, "", err
	}
	return l, key, nil
}

// Issue encodes a license, records it in the registry, escrows the key and
// refreshes the cache. Escrow and cache failures are logged, not returned.
func (s *Service) Issue(ctx context.Context, f license.Fields, issuedBy string) (*Issued, error) {
	l, key, err := s.Encode(f)
	if err != nil {
		return nil, err
	}

	log := logging.LicenseContext(l.SystemSerial(), l.ContractType().String())

	row := database.NewIssuedLicense(l, key, issuedBy)
	if err := s.registry.CreateIssuedLicense(ctx, row); err != nil {
		log.WithError(err).Error("Failed to record issued license")
		s.failed("registry", "failed to record issued license", err)
		return nil, fmt.Errorf("failed to record issued license: %w", err)
	}

	if s.escrow != nil {
		err := s.escrow.StoreLicenseKey(ctx, vault.EscrowedKey{
			SystemSerial: row.SystemSerial,
			LicenseKey:   key,
			IssuedBy:     issuedBy,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to escrow license key")
			s.failed("escrow", "failed to escrow license key", err)
		}
	}

	if s.cache != nil {
		// An older row for a re-issued serial must not outlive a failed refresh
		if err := s.cache.Set(ctx, row); err != nil && !errors.Is(err, cache.ErrCacheUnavailable) {
			log.WithError(err).Warn("Failed to cache issued license")
			if err := s.cache.Invalidate(ctx, row.SystemSerial); err != nil && !errors.Is(err, cache.ErrCacheUnavailable) {
				log.WithError(err).Warn("Failed to invalidate cached license")
			}
		}
	}

	if s.bus != nil {
		s.bus.PublishLicenseIssued(row.ID, row.SystemSerial, row.ContractType, issuedBy)
	}

	log.Info("License issued", "id", row.ID, "issued_by", issuedBy, "contract_end", row.ContractEnd.Format("2006-01-02"))

	return &Issued{Record: row, License: l}, nil
}

// Lookup returns the latest license issued to serial, checking the cache,
// then the registry, then the escrow.
func (s *Service) Lookup(ctx context.Context, serial string) (*database.IssuedLicense, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		if il, err := s.cache.Get(ctx, serial); err == nil {
			return il, nil
		}
	}

	il, err := s.registry.GetIssuedLicenseBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	if il == nil && s.escrow != nil {
		il, err = s.fromEscrow(ctx, serial)
		if err != nil {
			return nil, err
		}
	}
	if il == nil {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, il)
	}
	return il, nil
}

func (s *Service) fromEscrow(ctx context.Context, serial string) (*database.IssuedLicense, error) {
	escrowed, err := s.escrow.GetLicenseKey(ctx, serial)
	if errors.Is(err, vault.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read escrowed key: %w", err)
	}

	l, err := license.Decode(escrowed.LicenseKey)
	if err != nil {
		return nil, fmt.Errorf("escrowed key for %s does not decode: %v", serial, err)
	}

	logging.LicenseContext(serial, l.ContractType().String()).Warn("Registry has no row for serial, serving escrowed key")
	return database.NewIssuedLicense(l, escrowed.LicenseKey, escrowed.IssuedBy), nil
}

// List pages through issued licenses, newest first. contractType may be empty
// or any accepted spelling of a contract type.
func (s *Service) List(ctx context.Context, contractType string, limit, offset int) ([]database.IssuedLicense, int, error) {
	if contractType != "" {
		ct, err := license.ParseContractType(contractType)
		if err != nil {
			return nil, 0, err
		}
		contractType = ct.String()
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.registry.ListIssuedLicenses(ctx, contractType, limit, offset)
}

// Decode decodes a key and records the attempt
func (s *Service) Decode(ctx context.Context, key, remoteAddr string) (*license.License, error) {
	l, err := license.Decode(key)

	check := &database.LicenseCheck{RemoteAddr: remoteAddr, Success: err == nil}
	if err != nil {
		check.ErrorCode = license.CodeOf(err)
		s.rejected("decode", err)
	} else {
		check.SystemSerial = l.SystemSerial()
		if s.bus != nil {
			s.bus.PublishLicenseDecoded(l.SystemSerial(), l.ContractType().String(), l.ExpiredOn(s.now()))
		}
	}

	if logErr := s.registry.LogLicenseCheck(ctx, check); logErr != nil {
		logging.FromContext(ctx).WithError(logErr).Warn("Failed to record license check")
		s.failed("registry", "failed to record license check", logErr)
	}

	return l, err
}

// Now returns the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) failed(source, message string, err error) {
	if s.bus != nil {
		s.bus.PublishError(source, message, err)
	}
}

func (s *Service) rejected(operation string, err error) {
	if s.bus != nil {
		s.bus.PublishLicenseRejected(operation, license.CodeOf(err), err)
	}
}
