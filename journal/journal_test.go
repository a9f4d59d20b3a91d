package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Daniel-del-Castillo/Phrygian/train"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "runs", "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	run, err := j.StartRun(ctx, RunInfo{
		MelodiesPath: "melodies.json",
		WeightsDir:   "weights",
		Windows:      10,
		Pitches:      4,
		Durations:    2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.ID == "" {
		t.Fatal("expected non-empty ID")
	}

	var recorder train.Recorder = run
	recorder.RecordEpoch(ctx, &train.EpochStatus{Epoch: 1, Loss: 2, Improved: true,
		Elapsed: time.Second})
	recorder.RecordEpoch(ctx, &train.EpochStatus{Epoch: 2, Loss: 1.5, ValidationLoss: 1.7,
		HasValidation: true})
	if err := recorder.RecordCheckpoint(ctx, &train.CheckpointRecord{Epoch: 1, Loss: 2,
		Path: "weights/a.ckpt"}); err != nil {
		t.Fatal(err)
	}
	if err := recorder.RecordCheckpoint(ctx, &train.CheckpointRecord{Epoch: 2, Loss: 1.7,
		Path: "weights/b.ckpt", Err: errors.New("disk full")}); err != nil {
		t.Fatal(err)
	}

	epochs, err := j.Epochs(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(epochs) != 2 {
		t.Fatalf("expected 2 epochs, got %d", len(epochs))
	}
	if !epochs[0].Improved || epochs[0].ValidationLoss.Valid {
		t.Errorf("unexpected first epoch: %+v", epochs[0])
	}
	if epochs[1].Improved || epochs[1].ValidationLoss.Float64 != 1.7 {
		t.Errorf("unexpected second epoch: %+v", epochs[1])
	}

	ckpts, err := j.Checkpoints(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ckpts) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(ckpts))
	}
	if !ckpts[0].Durable || ckpts[0].Error != "" || ckpts[0].Path != "weights/a.ckpt" {
		t.Errorf("unexpected durable checkpoint: %+v", ckpts[0])
	}
	if ckpts[1].Durable || ckpts[1].Error != "disk full" {
		t.Errorf("unexpected failed checkpoint: %+v", ckpts[1])
	}

	if status, _ := j.Status(ctx, run.ID); status != "running" {
		t.Errorf("expected running, got %q", status)
	}
	if err := run.Finish(ctx, "done"); err != nil {
		t.Fatal(err)
	}
	if status, _ := j.Status(ctx, run.ID); status != "done" {
		t.Errorf("expected done, got %q", status)
	}
}

func TestRecordAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := newTestJournal(t)
	run, err := j.StartRun(ctx, RunInfo{MelodiesPath: "m", WeightsDir: "w"})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := run.RecordEpoch(ctx, &train.EpochStatus{Epoch: 1, Loss: 1}); err != nil {
		t.Errorf("record after cancel: %v", err)
	}
	if err := run.RecordCheckpoint(ctx, &train.CheckpointRecord{Epoch: 1, Loss: 1,
		Path: "p"}); err != nil {
		t.Errorf("record after cancel: %v", err)
	}
	if err := run.Finish(ctx, "interrupted"); err != nil {
		t.Errorf("finish after cancel: %v", err)
	}

	status, err := j.Status(context.Background(), run.ID)
	if err != nil || status != "interrupted" {
		t.Errorf("expected interrupted, got %q (%v)", status, err)
	}
}

func TestRunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	r1, _ := j.StartRun(ctx, RunInfo{MelodiesPath: "m", WeightsDir: "w"})
	r2, _ := j.StartRun(ctx, RunInfo{MelodiesPath: "m", WeightsDir: "w"})
	if r1.ID == r2.ID {
		t.Fatal("run IDs should differ")
	}
	r1.RecordEpoch(ctx, &train.EpochStatus{Epoch: 1, Loss: 1})
	epochs, _ := j.Epochs(ctx, r2.ID)
	if len(epochs) != 0 {
		t.Errorf("expected no epochs for second run, got %d", len(epochs))
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	run, _ := j.StartRun(ctx, RunInfo{MelodiesPath: "m", WeightsDir: "w"})
	run.RecordCheckpoint(ctx, &train.CheckpointRecord{Epoch: 1, Loss: 1, Path: "p"})
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ckpts, err := j.Checkpoints(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ckpts) != 1 {
		t.Errorf("expected 1 checkpoint, got %d", len(ckpts))
	}
}
