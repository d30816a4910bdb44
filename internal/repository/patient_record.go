package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// PatientRecordRepository stores curated patient records as JSONB documents.
type PatientRecordRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRecordRepository creates a new patient record repository
func NewPatientRecordRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRecordRepository {
	return &PatientRecordRepository{
		db:  db,
		log: logger,
	}
}

// Save inserts the record or replaces the stored version for the same patient.
func (r *PatientRecordRepository) Save(ctx context.Context, record *domain.PatientRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding patient record: %w", err)
	}

	query := `
		INSERT INTO patient_records (patient_id, record)
		VALUES ($1, $2)
		ON CONFLICT (patient_id) DO UPDATE
		SET record = EXCLUDED.record, updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, record.PatientID, document); err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": record.PatientID,
			"error":      err,
		}).Error("Failed to save patient record")
		return fmt.Errorf("saving patient record: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":   record.PatientID,
		"vitals":       len(record.VitalFunctions),
		"treatments":   len(record.Treatments),
		"record_bytes": len(document),
	}).Debug("Patient record saved")

	return nil
}

// Get retrieves a patient record by patient ID
func (r *PatientRecordRepository) Get(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	query := `SELECT record FROM patient_records WHERE patient_id = $1`

	var document []byte
	err := r.db.QueryRow(ctx, query, patientID).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient record %s not found: %w", patientID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get patient record")
		return nil, fmt.Errorf("getting patient record: %w", err)
	}

	var record domain.PatientRecord
	if err := json.Unmarshal(document, &record); err != nil {
		return nil, fmt.Errorf("decoding patient record %s: %w", patientID, err)
	}
	return &record, nil
}

// List returns stored patient IDs, most recently updated first.
func (r *PatientRecordRepository) List(ctx context.Context, limit, offset int) ([]string, error) {
	query := `
		SELECT patient_id
		FROM patient_records
		ORDER BY updated_at DESC, patient_id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		r.log.WithError(err).Error("Failed to list patient records")
		return nil, fmt.Errorf("listing patient records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning patient record row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient record rows: %w", err)
	}

	return ids, nil
}

// Delete removes a patient record
func (r *PatientRecordRepository) Delete(ctx context.Context, patientID string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM patient_records WHERE patient_id = $1`, patientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to delete patient record")
		return fmt.Errorf("deleting patient record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("patient record %s not found: %w", patientID, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", patientID).Info("Patient record deleted")
	return nil
}
