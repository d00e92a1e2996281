package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// DOMAINS
// =============================================================================

// CreateDomain inserts a new domain and returns it with generated identity.
func (s *LocalStore) CreateDomain(name, description, color, icon string) (types.Domain, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateDomain")
	defer timer.Stop()

	if name == "" {
		return types.Domain{}, &types.ValidationError{Field: "name", Reason: "domain name must be non-empty"}
	}

	d := types.Domain{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Color:       color,
		Icon:        icon,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO domains (id, name, description, color, icon, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.Color, d.Icon, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create domain %q: %v", name, err)
		return types.Domain{}, err
	}

	logging.StoreDebug("Created domain %s (%s)", d.Name, d.ID)
	return d, nil
}

// GetDomain fetches one domain by id.
func (s *LocalStore) GetDomain(id string) (types.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDomainLocked(id)
}

func (s *LocalStore) getDomainLocked(id string) (types.Domain, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, color, icon, created_at, updated_at FROM domains WHERE id = ?`, id)

	var d types.Domain
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Color, &d.Icon, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Domain{}, &types.NotFoundError{Kind: "domain", ID: id}
	}
	if err != nil {
		return types.Domain{}, err
	}
	return d, nil
}

// ListDomains returns all domains ordered by creation time.
func (s *LocalStore) ListDomains() ([]types.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, description, color, icon, created_at, updated_at
		 FROM domains ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []types.Domain
	for rows.Next() {
		var d types.Domain
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Color, &d.Icon, &d.CreatedAt, &d.UpdatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Domain row scan failed: %v", err)
			continue
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// UpdateDomain mutates the soft fields of a domain. Identity is immutable.
func (s *LocalStore) UpdateDomain(id, name, description, color, icon string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE domains SET name = ?, description = ?, color = ?, icon = ?, updated_at = ? WHERE id = ?`,
		name, description, color, icon, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "domain", ID: id}
	}
	return nil
}
