package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const issuedLicenseColumns = `id, system_serial, system_serial_ha, model, contract_type, contract_hardware,
	contract_software, contract_start, contract_end, customer_name, COALESCE(features::text, '[]'),
	license_key, issued_by, created_at`

// CreateIssuedLicense inserts a newly issued license
func (r *Repository) CreateIssuedLicense(ctx context.Context, il *IssuedLicense) error {
	if il.ID == "" {
		il.ID = uuid.New().String()
	}
	il.CreatedAt = time.Now().UTC()

	features, err := json.Marshal(il.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
	INSERT INTO issued_licenses (id, system_serial, system_serial_ha, model, contract_type, contract_hardware,
		contract_software, contract_start, contract_end, customer_name, features, license_key, issued_by, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		il.ID,
		il.SystemSerial,
		il.SystemSerialHA,
		il.Model,
		il.ContractType,
		il.ContractHardware,
		il.ContractSoftware,
		il.ContractStart,
		il.ContractEnd,
		il.CustomerName,
		string(features),
		il.LicenseKey,
		il.IssuedBy,
		il.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create issued license: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssuedLicense(row rowScanner) (*IssuedLicense, error) {
	var il IssuedLicense
	var features string

	err := row.Scan(
		&il.ID,
		&il.SystemSerial,
		&il.SystemSerialHA,
		&il.Model,
		&il.ContractType,
		&il.ContractHardware,
		&il.ContractSoftware,
		&il.ContractStart,
		&il.ContractEnd,
		&il.CustomerName,
		&features,
		&il.LicenseKey,
		&il.IssuedBy,
		&il.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(features), &il.Features); err != nil {
		return nil, fmt.Errorf("failed to parse features: %w", err)
	}

	return &il, nil
}

// GetIssuedLicenseBySerial returns the most recent license issued to a system serial.
// It returns nil, nil when nothing has been issued.
func (r *Repository) GetIssuedLicenseBySerial(ctx context.Context, serial string) (*IssuedLicense, error) {
	query := fmt.Sprintf(`
	SELECT %s
	FROM issued_licenses
	WHERE system_serial = $1
	ORDER BY created_at DESC
	LIMIT 1
	`, issuedLicenseColumns)

	il, err := scanIssuedLicense(r.db.Pool.QueryRow(ctx, query, serial))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issued license by serial: %w", err)
	}

	return il, nil
}

// ListIssuedLicenses lists issued licenses, newest first, optionally filtered by contract type
func (r *Repository) ListIssuedLicenses(ctx context.Context, contractType string, limit, offset int) ([]IssuedLicense, int, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if contractType != "" {
		whereClause += fmt.Sprintf(" AND contract_type = $%d", argNum)
		args = append(args, contractType)
		argNum++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM issued_licenses %s", whereClause)
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count issued licenses: %w", err)
	}

	query := fmt.Sprintf(`
	SELECT %s
	FROM issued_licenses
	%s
	ORDER BY created_at DESC
	LIMIT $%d OFFSET $%d
	`, issuedLicenseColumns, whereClause, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list issued licenses: %w", err)
	}
	defer rows.Close()

	var licenses []IssuedLicense
	for rows.Next() {
		il, err := scanIssuedLicense(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan issued license: %w", err)
		}
		licenses = append(licenses, *il)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate issued licenses: %w", err)
	}

	return licenses, total, nil
}

// LogLicenseCheck records a decode attempt
func (r *Repository) LogLicenseCheck(ctx context.Context, check *LicenseCheck) error {
	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	check.CreatedAt = time.Now().UTC()

	query := `
	INSERT INTO license_checks (id, system_serial, remote_addr, success, error_code, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		check.ID, check.SystemSerial, check.RemoteAddr, check.Success, check.ErrorCode, check.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log license check: %w", err)
	}
	return nil
}
