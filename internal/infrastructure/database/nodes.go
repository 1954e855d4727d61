package database

import (
	"context"
	"fmt"
	"time"
)

// NodeRecord is the persisted registration of one discovered device node.
type NodeRecord struct {
	Address  string
	VendorID string
	Category string
	Name     string
}

// NodeStore persists discovered nodes so the registry survives restarts
// and status reporting can enumerate known devices without a snapshot.
type NodeStore struct {
	db *DB
}

// NewNodeStore creates a NodeStore backed by db.
func NewNodeStore(db *DB) *NodeStore {
	return &NodeStore{db: db}
}

// Save stores or refreshes a node registration, keyed by address.
func (s *NodeStore) Save(ctx context.Context, record NodeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (address, vendor_id, category, name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET name = excluded.name`,
		record.Address, record.VendorID, record.Category, record.Name,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("database: save node %q: %w", record.Address, err)
	}
	return nil
}

// List returns all persisted node registrations ordered by address.
func (s *NodeStore) List(ctx context.Context) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, vendor_id, category, name FROM nodes ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("database: list nodes: %w", err)
	}
	defer rows.Close()

	var records []NodeRecord
	for rows.Next() {
		var record NodeRecord
		if err := rows.Scan(&record.Address, &record.VendorID, &record.Category, &record.Name); err != nil {
			return nil, fmt.Errorf("database: scan node: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate nodes: %w", err)
	}
	return records, nil
}
