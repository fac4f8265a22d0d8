package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByAddr retrieves a device by its network address, including
	// soft-deleted rows. Returns ErrDeviceNotFound if no row exists.
	GetByAddr(ctx context.Context, addr string) (*Device, error)

	// List retrieves all non-removed devices ordered by address.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the address is already present.
	Create(ctx context.Context, device *Device) error

	// Update rewrites every mutable field of an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// UpdateAttributes merges changed attribute values into the stored
	// attribute map and bumps last_seen. The device is marked online and
	// any offline reason is cleared, since a report implies liveness.
	// This is the hot path for state reports.
	UpdateAttributes(ctx context.Context, addr string, changed Attributes, seen time.Time) error

	// UpdateAvailability flips the online flag and records the reason
	// when going offline.
	UpdateAvailability(ctx context.Context, addr string, online bool, reason string) error

	// Rename changes a device's name.
	// Returns ErrNameTaken if another device already has that name.
	Rename(ctx context.Context, addr, name string) error

	// Remove soft-deletes a device. The row and its journal survive.
	Remove(ctx context.Context, addr string) error

	// AppendEvent appends a reconciled change to the device_events journal.
	AppendEvent(ctx context.Context, addr string, changed Attributes, ts time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByAddr retrieves a device by its network address.
func (r *SQLiteRepository) GetByAddr(ctx context.Context, addr string) (*Device, error) {
	query := `
		SELECT addr, name, capabilities, attributes, online, offline_reason,
			removed, last_seen, joined_at, updated_at
		FROM devices
		WHERE addr = ?`

	row := r.db.QueryRowContext(ctx, query, addr)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by addr: %w", err)
	}
	return device, nil
}

// List retrieves all non-removed devices ordered by address.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT addr, name, capabilities, attributes, online, offline_reason,
			removed, last_seen, joined_at, updated_at
		FROM devices
		WHERE removed = 0
		ORDER BY addr`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	capsJSON, attrsJSON, err := marshalDeviceJSON(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.JoinedAt.IsZero() {
		device.JoinedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			addr, name, capabilities, attributes, online, offline_reason,
			removed, last_seen, joined_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.Addr,
		device.Name,
		capsJSON,
		attrsJSON,
		boolToInt(device.Online),
		nullableString(device.OfflineReason),
		boolToInt(device.Removed),
		device.LastSeen.UTC().Format(time.RFC3339Nano),
		device.JoinedAt.UTC().Format(time.RFC3339Nano),
		device.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update rewrites every mutable field of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	capsJSON, attrsJSON, err := marshalDeviceJSON(device)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, capabilities = ?, attributes = ?, online = ?,
			offline_reason = ?, removed = ?, last_seen = ?, joined_at = ?,
			updated_at = ?
		WHERE addr = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		capsJSON,
		attrsJSON,
		boolToInt(device.Online),
		nullableString(device.OfflineReason),
		boolToInt(device.Removed),
		device.LastSeen.UTC().Format(time.RFC3339Nano),
		device.JoinedAt.UTC().Format(time.RFC3339Nano),
		device.UpdatedAt.Format(time.RFC3339Nano),
		device.Addr,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("updating device: %w", err)
	}

	return requireRowAffected(result)
}

// UpdateAttributes merges changed attribute values into the stored map.
func (r *SQLiteRepository) UpdateAttributes(ctx context.Context, addr string, changed Attributes, seen time.Time) error {
	if changed == nil {
		// json_patch treats a null patch as a replacement, which would
		// wipe the stored map. Heartbeats carry no attributes.
		changed = Attributes{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	now := time.Now().UTC()
	// json_patch(target, patch) applies patch keys to target, preserving
	// existing keys not present in patch.
	query := `
		UPDATE devices
		SET attributes = json_patch(COALESCE(attributes, '{}'), ?),
		    last_seen = ?,
		    online = 1,
		    offline_reason = NULL,
		    updated_at = ?
		WHERE addr = ? AND removed = 0`

	result, err := r.db.ExecContext(ctx, query,
		string(changedJSON),
		seen.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		addr,
	)
	if err != nil {
		return fmt.Errorf("updating device attributes: %w", err)
	}

	return requireRowAffected(result)
}

// UpdateAvailability flips the online flag.
func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, addr string, online bool, reason string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET online = ?, offline_reason = ?, updated_at = ?
		WHERE addr = ? AND removed = 0`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(online),
		nullableString(reason),
		now.Format(time.RFC3339Nano),
		addr,
	)
	if err != nil {
		return fmt.Errorf("updating device availability: %w", err)
	}

	return requireRowAffected(result)
}

// Rename changes a device's name.
func (r *SQLiteRepository) Rename(ctx context.Context, addr, name string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET name = ?, updated_at = ?
		WHERE addr = ? AND removed = 0`

	result, err := r.db.ExecContext(ctx, query, name, now.Format(time.RFC3339Nano), addr)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("renaming device: %w", err)
	}

	return requireRowAffected(result)
}

// Remove soft-deletes a device.
func (r *SQLiteRepository) Remove(ctx context.Context, addr string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET removed = 1, online = 0, updated_at = ?
		WHERE addr = ? AND removed = 0`

	result, err := r.db.ExecContext(ctx, query, now.Format(time.RFC3339Nano), addr)
	if err != nil {
		return fmt.Errorf("removing device: %w", err)
	}

	return requireRowAffected(result)
}

// AppendEvent appends a reconciled change to the device_events journal.
func (r *SQLiteRepository) AppendEvent(ctx context.Context, addr string, changed Attributes, ts time.Time) error {
	if changed == nil {
		changed = Attributes{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("marshalling event attributes: %w", err)
	}

	query := `INSERT INTO device_events (ts, addr, attributes) VALUES (?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		ts.UTC().Format(time.RFC3339Nano),
		addr,
		string(changedJSON),
	)
	if err != nil {
		return fmt.Errorf("appending device event: %w", err)
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var capsJSON, attrsJSON string
	var offlineReason sql.NullString
	var online, removed int
	var lastSeen, joinedAt, updatedAt string

	err := scanner.Scan(
		&d.Addr,
		&d.Name,
		&capsJSON,
		&attrsJSON,
		&online,
		&offlineReason,
		&removed,
		&lastSeen,
		&joinedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Online = online != 0
	d.Removed = removed != 0
	if offlineReason.Valid {
		d.OfflineReason = offlineReason.String
	}

	var parseErr error
	d.LastSeen, parseErr = time.Parse(time.RFC3339Nano, lastSeen)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", parseErr)
	}
	d.JoinedAt, parseErr = time.Parse(time.RFC3339Nano, joinedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing joined_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(attrsJSON), &d.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshalling attributes: %w", err)
	}

	return &d, nil
}

// marshalDeviceJSON marshals the JSON-column fields of a device.
func marshalDeviceJSON(device *Device) (capsJSON, attrsJSON string, err error) {
	caps := device.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capsBytes, err := json.Marshal(caps)
	if err != nil {
		return "", "", fmt.Errorf("marshalling capabilities: %w", err)
	}

	attrs := device.Attributes
	if attrs == nil {
		attrs = Attributes{}
	}
	attrsBytes, err := json.Marshal(attrs)
	if err != nil {
		return "", "", fmt.Errorf("marshalling attributes: %w", err)
	}

	return string(capsBytes), string(attrsBytes), nil
}

// requireRowAffected converts a zero-row UPDATE into ErrDeviceNotFound.
func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableString returns a sql.NullString that is NULL for empty strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
