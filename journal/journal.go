// Package journal records training runs in a SQLite
// database so that checkpoint outcomes can be audited after
// the process exits.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Daniel-del-Castillo/Phrygian/train"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// A Journal is a SQLite-backed run journal.
type Journal struct {
	db *sql.DB

	lock    sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) newID() string {
	j.lock.Lock()
	defer j.lock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), j.entropy).String()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		melodies    TEXT NOT NULL,
		weights_dir TEXT NOT NULL,
		windows     INTEGER NOT NULL,
		pitches     INTEGER NOT NULL,
		durations   INTEGER NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		status      TEXT NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		epoch      INTEGER NOT NULL,
		loss       REAL NOT NULL,
		val_loss   REAL,
		improved   INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, epoch)
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id         TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL REFERENCES runs(id),
		epoch      INTEGER NOT NULL,
		loss       REAL NOT NULL,
		path       TEXT NOT NULL,
		durable    INTEGER NOT NULL,
		error      TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id, epoch);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	MelodiesPath string
	WeightsDir   string
	Windows      int
	Pitches      int
	Durations    int
}

// A Run records the epochs and checkpoints of one training
// run.
// It implements train.Recorder.
type Run struct {
	ID string

	j *Journal
}

// StartRun inserts a new run.
// Like every write to a run, it goes through even if ctx
// is already cancelled, so interrupted runs are recorded.
func (j *Journal) StartRun(ctx context.Context, info RunInfo) (*Run, error) {
	r := &Run{ID: j.newID(), j: j}
	_, err := j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO runs (id, melodies, weights_dir, windows, pitches, durations, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, info.MelodiesPath, info.WeightsDir, info.Windows, info.Pitches,
		info.Durations, now())
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return r, nil
}

// RecordEpoch stores the losses of an epoch.
func (r *Run) RecordEpoch(ctx context.Context, s *train.EpochStatus) error {
	var valLoss interface{}
	if s.HasValidation {
		valLoss = s.ValidationLoss
	}
	_, err := r.j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT OR REPLACE INTO epochs (run_id, epoch, loss, val_loss, improved, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, s.Epoch, s.Loss, valLoss, boolInt(s.Improved), s.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("record epoch %d: %w", s.Epoch, err)
	}
	return nil
}

// RecordCheckpoint stores the outcome of a checkpoint
// write.
func (r *Run) RecordCheckpoint(ctx context.Context, c *train.CheckpointRecord) error {
	var errText interface{}
	if c.Err != nil {
		errText = c.Err.Error()
	}
	_, err := r.j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO checkpoints (id, run_id, epoch, loss, path, durable, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.j.newID(), r.ID, c.Epoch, c.Loss, c.Path, boolInt(c.Err == nil), errText, now())
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

// Finish marks the run with its final status, such as
// "done", "interrupted" or "failed".
func (r *Run) Finish(ctx context.Context, status string) error {
	_, err := r.j.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`, now(), status, r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// A Checkpoint is a journaled checkpoint outcome.
type Checkpoint struct {
	ID      string
	RunID   string
	Epoch   int
	Loss    float64
	Path    string
	Durable bool
	Error   string
}

// Checkpoints lists the checkpoints of a run by epoch.
func (j *Journal) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, epoch, loss, path, durable, error FROM checkpoints
		WHERE run_id = ? ORDER BY epoch, created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var res []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var durable int
		var errText sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.Epoch, &c.Loss, &c.Path, &durable,
			&errText); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		c.Durable = durable != 0
		c.Error = errText.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// An Epoch is a journaled epoch.
type Epoch struct {
	Epoch          int
	Loss           float64
	ValidationLoss sql.NullFloat64
	Improved       bool
}

// Epochs lists the epochs of a run in order.
func (j *Journal) Epochs(ctx context.Context, runID string) ([]Epoch, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT epoch, loss, val_loss, improved FROM epochs WHERE run_id = ? ORDER BY epoch`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var res []Epoch
	for rows.Next() {
		var e Epoch
		var improved int
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.ValidationLoss, &improved); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		e.Improved = improved != 0
		res = append(res, e)
	}
	return res, rows.Err()
}

// Status returns the status of a run.
func (j *Journal) Status(ctx context.Context, runID string) (string, error) {
	var status string
	err := j.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).
		Scan(&status)
	if err != nil {
		return "", fmt.Errorf("run status: %w", err)
	}
	return status, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
