package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrAlertNotFound is returned when an alert log update matches no row
var ErrAlertNotFound = errors.New("alert not found in log")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in name order and
// returns the names of the files applied.
func (db *DB) RunMigrations(migrationsDir string) ([]string, error) {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return sqlFiles, nil
}

// UpsertStation inserts or updates a station
func (db *DB) UpsertStation(st *Station) error {
	query := `
		INSERT INTO stations (station_id, location_key, latitude, longitude, district, state, region_type, near_river, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (station_id) DO UPDATE
		SET location_key = EXCLUDED.location_key,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    district = EXCLUDED.district,
		    state = EXCLUDED.state,
		    region_type = EXCLUDED.region_type,
		    near_river = EXCLUDED.near_river,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.Exec(query, st.StationID, st.LocationKey, st.Latitude, st.Longitude,
		st.District, st.State, st.RegionType, st.NearRiver, st.LastSeenAt)
	return err
}

// GetStation retrieves a station by id
func (db *DB) GetStation(stationID string) (*Station, error) {
	query := `
		SELECT station_id, location_key, latitude, longitude, district, state,
		       region_type, near_river, last_seen_at, created_at, updated_at
		FROM stations
		WHERE station_id = $1
	`

	var st Station
	err := db.QueryRow(query, stationID).Scan(
		&st.StationID,
		&st.LocationKey,
		&st.Latitude,
		&st.Longitude,
		&st.District,
		&st.State,
		&st.RegionType,
		&st.NearRiver,
		&st.LastSeenAt,
		&st.CreatedAt,
		&st.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &st, nil
}

// InsertAlertLog records a raised alert. Redelivered alerts update the
// existing row instead of inserting a duplicate.
func (db *DB) InsertAlertLog(entry *AlertLog) error {
	query := `
		INSERT INTO alert_log (
			alert_id, evaluation_id, location_key, severity, alert_type,
			escalation_type, previous_alert_id, flood_probability, confidence,
			anomaly_score, conditions_met, sms_payload, payload, status,
			raised_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (alert_id, location_key) DO UPDATE
		SET updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	return db.QueryRow(
		query,
		entry.AlertID,
		entry.EvaluationID,
		entry.LocationKey,
		entry.Severity,
		entry.AlertType,
		entry.EscalationType,
		entry.PreviousAlertID,
		entry.FloodProbability,
		entry.Confidence,
		entry.AnomalyScore,
		entry.ConditionsMet,
		entry.SMSPayload,
		entry.Payload,
		entry.Status,
		entry.RaisedAt,
		entry.ExpiresAt,
	).Scan(&entry.ID)
}

// MarkAlertAcknowledged sets the acknowledged flag of a logged alert
func (db *DB) MarkAlertAcknowledged(alertID, locationKey string, at time.Time) error {
	query := `
		UPDATE alert_log
		SET acknowledged = true, acknowledged_at = $1, updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $2 AND location_key = $3
	`
	return db.execOne(query, at, alertID, locationKey)
}

// MarkAlertCleared moves a logged alert to cleared status
func (db *DB) MarkAlertCleared(alertID, locationKey string, at time.Time) error {
	query := `
		UPDATE alert_log
		SET status = $1, cleared_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3 AND location_key = $4
	`
	return db.execOne(query, AlertStatusCleared, at, alertID, locationKey)
}

func (db *DB) execOne(query string, args ...interface{}) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// RecentAlerts returns the latest logged alerts for a location, newest first
func (db *DB) RecentAlerts(locationKey string, limit int) ([]*AlertLog, error) {
	query := `
		SELECT id, alert_id, evaluation_id, location_key, severity, alert_type,
		       escalation_type, previous_alert_id, flood_probability, confidence,
		       anomaly_score, conditions_met, sms_payload, status, acknowledged,
		       raised_at, expires_at, acknowledged_at, cleared_at
		FROM alert_log
		WHERE location_key = $1
		ORDER BY raised_at DESC
		LIMIT $2
	`

	rows, err := db.Query(query, locationKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*AlertLog
	for rows.Next() {
		var l AlertLog
		if err := rows.Scan(
			&l.ID,
			&l.AlertID,
			&l.EvaluationID,
			&l.LocationKey,
			&l.Severity,
			&l.AlertType,
			&l.EscalationType,
			&l.PreviousAlertID,
			&l.FloodProbability,
			&l.Confidence,
			&l.AnomalyScore,
			&l.ConditionsMet,
			&l.SMSPayload,
			&l.Status,
			&l.Acknowledged,
			&l.RaisedAt,
			&l.ExpiresAt,
			&l.AcknowledgedAt,
			&l.ClearedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}
