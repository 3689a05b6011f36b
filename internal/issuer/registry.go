package issuer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"appliance-license/internal/database"
)

// Registry persists issued licenses. *database.Repository satisfies it.
type Registry interface {
	CreateIssuedLicense(ctx context.Context, il *database.IssuedLicense) error
	GetIssuedLicenseBySerial(ctx context.Context, serial string) (*database.IssuedLicense, error)
	ListIssuedLicenses(ctx context.Context, contractType string, limit, offset int) ([]database.IssuedLicense, int, error)
	LogLicenseCheck(ctx context.Context, check *database.LicenseCheck) error
}

// MemoryRegistry is a process-local Registry used when PostgreSQL is disabled
type MemoryRegistry struct {
	mu     sync.RWMutex
	rows   []database.IssuedLicense
	checks []database.LicenseCheck
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

func (m *MemoryRegistry) CreateIssuedLicense(ctx context.Context, il *database.IssuedLicense) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if il.ID == "" {
		il.ID = uuid.New().String()
	}
	il.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, *il)
	return nil
}

func (m *MemoryRegistry) GetIssuedLicenseBySerial(ctx context.Context, serial string) (*database.IssuedLicense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].SystemSerial == serial {
			il := m.rows[i]
			return &il, nil
		}
	}
	return nil, nil
}

func (m *MemoryRegistry) ListIssuedLicenses(ctx context.Context, contractType string, limit, offset int) ([]database.IssuedLicense, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []database.IssuedLicense
	for i := len(m.rows) - 1; i >= 0; i-- {
		if contractType == "" || m.rows[i].ContractType == contractType {
			matched = append(matched, m.rows[i])
		}
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemoryRegistry) LogLicenseCheck(ctx context.Context, check *database.LicenseCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	check.CreatedAt = time.Now().UTC()
	m.checks = append(m.checks, *check)
	return nil
}

// Checks returns the recorded decode attempts, oldest first
func (m *MemoryRegistry) Checks() []database.LicenseCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.LicenseCheck(nil), m.checks...)
}
