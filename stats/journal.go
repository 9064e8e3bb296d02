// journal.go - SQLite-Journal aller Trainingslaeufe
//
// Dieses Modul enthaelt:
// - Journal: SQLite-Verbindung mit Tabellen runs, epochs, tests
// - StartRun/RecordEpoch/RecordTest: Schreiben eines Laufs
// - Runs/Epochs/Tests: Abfragen fuer "captioner stats"
//
// Die Text-Dateien des Store bleiben die Quelle fuer das Fortsetzen eines
// Laufs, das Journal haelt zusaetzlich die Historie ueber mehrere Laeufe.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// journalSchemaVersion wird bei Schema-Aenderungen erhoeht
const journalSchemaVersion = 1

// Journal umhuellt die SQLite-Verbindung
type Journal struct {
	conn *sql.DB
}

// Run ist ein gestarteter Trainingslauf
type Run struct {
	ID         string
	Experiment string
	ModelType  string
	StartEpoch int
	StartedAt  time.Time
}

// EpochRecord ist eine abgeschlossene Epoche eines Laufs
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Took      time.Duration
}

// TestRecord ist ein Test-Durchlauf eines Laufs
type TestRecord struct {
	Epoch int
	Loss  float64
	BLEU1 float64
	BLEU4 float64
}

// OpenJournal oeffnet oder erstellt die Journal-Datenbank unter path
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{conn: conn}
	if err := j.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize journal: %w", err)
	}
	return j, nil
}

// Close schliesst die Verbindung
func (j *Journal) Close() error {
	_, _ = j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return j.conn.Close()
}

func (j *Journal) init() error {
	var version int
	if err := j.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > journalSchemaVersion {
		return fmt.Errorf("schema version %d ist neuer als %d", version, journalSchemaVersion)
	}

	_, err := j.conn.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		experiment TEXT NOT NULL,
		model_type TEXT NOT NULL DEFAULT '',
		start_epoch INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		train_loss REAL NOT NULL,
		val_loss REAL NOT NULL,
		took_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tests (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		loss REAL NOT NULL,
		bleu1 REAL NOT NULL,
		bleu4 REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	PRAGMA user_version = %d;
	`, journalSchemaVersion))
	return err
}

// ============================================================================
// Schreiben
// ============================================================================

// StartRun legt einen neuen Lauf an und gibt seine ID (UUIDv7) zurueck
func (j *Journal) StartRun(experiment, modelType string, startEpoch int, at time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	_, err = j.conn.Exec(
		"INSERT INTO runs (id, experiment, model_type, start_epoch, started_at) VALUES (?, ?, ?, ?, ?)",
		id.String(), experiment, modelType, startEpoch, at.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id.String(), nil
}

// RecordEpoch speichert eine abgeschlossene Epoche
func (j *Journal) RecordEpoch(runID string, epoch int, train, val float64, took time.Duration) error {
	_, err := j.conn.Exec(
		"INSERT OR REPLACE INTO epochs (run_id, epoch, train_loss, val_loss, took_ms) VALUES (?, ?, ?, ?, ?)",
		runID, epoch, train, val, took.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}
	return nil
}

// RecordTest speichert das Ergebnis eines Test-Durchlaufs
func (j *Journal) RecordTest(runID string, epoch int, loss, bleu1, bleu4 float64) error {
	_, err := j.conn.Exec(
		"INSERT INTO tests (run_id, epoch, loss, bleu1, bleu4) VALUES (?, ?, ?, ?, ?)",
		runID, epoch, loss, bleu1, bleu4,
	)
	if err != nil {
		return fmt.Errorf("record test: %w", err)
	}
	return nil
}

// ============================================================================
// Abfragen
// ============================================================================

// Runs gibt alle Laeufe eines Experiments in Startreihenfolge zurueck
func (j *Journal) Runs(experiment string) ([]Run, error) {
	rows, err := j.conn.Query(
		"SELECT id, experiment, model_type, start_epoch, started_at FROM runs WHERE experiment = ? ORDER BY started_at, id",
		experiment,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Experiment, &r.ModelType, &r.StartEpoch, &r.StartedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Epochs gibt die Epochen eines Laufs zurueck
func (j *Journal) Epochs(runID string) ([]EpochRecord, error) {
	rows, err := j.conn.Query("SELECT epoch, train_loss, val_loss, took_ms FROM epochs WHERE run_id = ? ORDER BY epoch", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpochRecord
	for rows.Next() {
		var e EpochRecord
		var ms int64
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.ValLoss, &ms); err != nil {
			return nil, err
		}
		e.Took = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tests gibt die Test-Durchlaeufe eines Laufs zurueck
func (j *Journal) Tests(runID string) ([]TestRecord, error) {
	rows, err := j.conn.Query("SELECT epoch, loss, bleu1, bleu4 FROM tests WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TestRecord
	for rows.Next() {
		var t TestRecord
		if err := rows.Scan(&t.Epoch, &t.Loss, &t.BLEU1, &t.BLEU4); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
