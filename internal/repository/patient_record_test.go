package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trial-eligibility-mcp-server/internal/database"
	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	require.NoError(t, err, "Failed to create database connection")

	migrationRunner, err := database.NewMigrationRunner(config.URL(), "../../migrations", logger)
	require.NoError(t, err, "Failed to create migration runner")
	require.NoError(t, migrationRunner.Up(ctx), "Failed to run migrations")
	migrationRunner.Close()

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func testRecord(patientID string, systolic float64) *domain.PatientRecord {
	who := 1
	return &domain.PatientRecord{
		PatientID: patientID,
		BirthYear: 1960,
		WHOStatus: &who,
		VitalFunctions: []domain.Measurement{{
			Date:        time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
			Category:    domain.NON_INVASIVE_BLOOD_PRESSURE,
			Subcategory: domain.SubcategorySystolic,
			Value:       systolic,
			Unit:        "mmHg",
			Valid:       true,
		}},
	}
}

func TestPatientRecordRepository(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewPatientRecordRepository(db.Pool, logger)
	ctx := context.Background()

	t.Run("Save and Get", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, testRecord("patient-1", 120)))

		got, err := repo.Get(ctx, "patient-1")

		require.NoError(t, err)
		require.Len(t, got.VitalFunctions, 1)
		assert.Equal(t, 120.0, got.VitalFunctions[0].Value)
		require.NotNil(t, got.WHOStatus)
		assert.Equal(t, 1, *got.WHOStatus)
	})

	t.Run("Save replaces existing record", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, testRecord("patient-1", 95)))

		got, err := repo.Get(ctx, "patient-1")

		require.NoError(t, err)
		assert.Equal(t, 95.0, got.VitalFunctions[0].Value)
	})

	t.Run("Save rejects invalid record", func(t *testing.T) {
		err := repo.Save(ctx, &domain.PatientRecord{})

		var validationErr *domain.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, "nobody")

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, testRecord("patient-2", 110)))

		ids, err := repo.List(ctx, 10, 0)

		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"patient-1", "patient-2"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "patient-2"))

		assert.ErrorIs(t, repo.Delete(ctx, "patient-2"), domain.ErrNotFound)
	})
}
