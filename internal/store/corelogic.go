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
// CORE LOGIC VERSIONS
// =============================================================================
// Append-only chain per domain. Version insert and activation flip happen in
// one transaction so exactly one active row per domain survives any
// interleaving.

// InsertCoreLogicVersion appends a new version for the domain, numbering it
// previousMax+1, linking it to the prior active version, and deactivating
// that prior version in the same transaction.
func (s *LocalStore) InsertCoreLogicVersion(cl types.CoreLogic) (types.CoreLogic, error) {
	timer := logging.StartTimer(logging.CategoryStore, "InsertCoreLogicVersion")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getDomainLocked(cl.DomainID); err != nil {
		return types.CoreLogic{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return types.CoreLogic{}, err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(version) FROM core_logic WHERE domain_id = ?`, cl.DomainID,
	).Scan(&maxVersion); err != nil {
		return types.CoreLogic{}, err
	}

	var parentID sql.NullString
	if err := tx.QueryRow(
		`SELECT id FROM core_logic WHERE domain_id = ? AND is_active = 1`, cl.DomainID,
	).Scan(&parentID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return types.CoreLogic{}, err
	}

	cl.ID = uuid.NewString()
	cl.Version = int(maxVersion.Int64) + 1
	cl.ParentVersionID = parentID.String
	cl.IsActive = true
	cl.CreatedAt = time.Now().UTC()

	if _, err := tx.Exec(
		`UPDATE core_logic SET is_active = 0 WHERE domain_id = ? AND is_active = 1`, cl.DomainID,
	); err != nil {
		return types.CoreLogic{}, err
	}

	if _, err := tx.Exec(
		`INSERT INTO core_logic
		 (id, domain_id, version, first_principles, mental_models, decision_rules, anti_patterns,
		  parent_version_id, is_active, change_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		cl.ID, cl.DomainID, cl.Version,
		marshalJSON(cl.FirstPrinciples), marshalJSON(cl.MentalModels),
		marshalJSON(cl.DecisionRules), marshalJSON(cl.AntiPatterns),
		cl.ParentVersionID, cl.ChangeSummary, cl.CreatedAt,
	); err != nil {
		return types.CoreLogic{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.CoreLogic{}, err
	}

	logging.Distill("Core logic v%d created for domain %s", cl.Version, cl.DomainID)
	return cl, nil
}

// ActiveCoreLogic returns the single active version for a domain.
func (s *LocalStore) ActiveCoreLogic(domainID string) (types.CoreLogic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(coreLogicSelect+` WHERE domain_id = ? AND is_active = 1`, domainID)
	cl, err := scanCoreLogic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CoreLogic{}, &types.NotFoundError{Kind: "core logic", ID: domainID}
	}
	return cl, err
}

// CoreLogicVersion returns one specific version of a domain's core logic.
func (s *LocalStore) CoreLogicVersion(domainID string, version int) (types.CoreLogic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coreLogicVersionLocked(domainID, version)
}

func (s *LocalStore) coreLogicVersionLocked(domainID string, version int) (types.CoreLogic, error) {
	row := s.db.QueryRow(coreLogicSelect+` WHERE domain_id = ? AND version = ?`, domainID, version)
	cl, err := scanCoreLogic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CoreLogic{}, &types.NotFoundError{Kind: "core logic version", ID: domainID}
	}
	return cl, err
}

// CoreLogicVersions lists every version for a domain, newest first.
func (s *LocalStore) CoreLogicVersions(domainID string) ([]types.CoreLogic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(coreLogicSelect+` WHERE domain_id = ? ORDER BY version DESC`, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []types.CoreLogic
	for rows.Next() {
		cl, err := scanCoreLogic(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Core logic scan failed: %v", err)
			continue
		}
		versions = append(versions, cl)
	}
	return versions, rows.Err()
}

// ActivateCoreLogicVersion flips the active flag to targetVersion in one
// transaction. Used by rollback; history rows are never deleted. A non-empty
// note is appended to the restored version's change summary as an audit
// trail.
func (s *LocalStore) ActivateCoreLogicVersion(domainID string, targetVersion int, note string) (types.CoreLogic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.coreLogicVersionLocked(domainID, targetVersion)
	if err != nil {
		return types.CoreLogic{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return types.CoreLogic{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE core_logic SET is_active = 0 WHERE domain_id = ? AND is_active = 1`, domainID,
	); err != nil {
		return types.CoreLogic{}, err
	}
	if _, err := tx.Exec(
		`UPDATE core_logic SET is_active = 1 WHERE domain_id = ? AND version = ?`, domainID, targetVersion,
	); err != nil {
		return types.CoreLogic{}, err
	}
	if note != "" {
		if _, err := tx.Exec(
			`UPDATE core_logic
			 SET change_summary = TRIM(COALESCE(change_summary, '') || char(10) || ?, char(10))
			 WHERE domain_id = ? AND version = ?`, note, domainID, targetVersion,
		); err != nil {
			return types.CoreLogic{}, err
		}
		if target.ChangeSummary != "" {
			target.ChangeSummary += "\n"
		}
		target.ChangeSummary += note
	}
	if err := tx.Commit(); err != nil {
		return types.CoreLogic{}, err
	}

	target.IsActive = true
	return target, nil
}

const coreLogicSelect = `SELECT id, domain_id, version, first_principles, mental_models,
	decision_rules, anti_patterns, parent_version_id, is_active, change_summary, created_at
	FROM core_logic`

func scanCoreLogic(r rowScanner) (types.CoreLogic, error) {
	var cl types.CoreLogic
	var fp, mm, dr, ap, parent, summary sql.NullString
	var active int
	err := r.Scan(&cl.ID, &cl.DomainID, &cl.Version, &fp, &mm, &dr, &ap, &parent, &active, &summary, &cl.CreatedAt)
	if err != nil {
		return cl, err
	}
	cl.FirstPrinciples = unmarshalStrings(fp.String)
	cl.MentalModels = unmarshalStrings(mm.String)
	cl.DecisionRules = unmarshalStrings(dr.String)
	cl.AntiPatterns = unmarshalStrings(ap.String)
	cl.ParentVersionID = parent.String
	cl.IsActive = active != 0
	cl.ChangeSummary = summary.String
	return cl, nil
}
