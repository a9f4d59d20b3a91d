package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/train"
)

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHelp(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		out, err := execute(flag)
		if err != nil {
			t.Errorf("%s: %v", flag, err)
		}
		if !strings.Contains(out, "train <processed-melodies-file>") {
			t.Errorf("%s: usage not printed: %q", flag, out)
		}
	}
}

func TestArgumentCount(t *testing.T) {
	for _, args := range [][]string{{}, {"a.json", "b.json"}} {
		out, err := execute(args...)
		if err == nil {
			t.Errorf("%v: expected an error", args)
		}
		if !strings.Contains(out, "Usage:") {
			t.Errorf("%v: usage not printed", args)
		}
	}
}

func TestMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(filepath.Join(dir, "missing.json"), "--out", filepath.Join(dir, "w"),
		"--no-progress")
	if !errs.Is(err, errs.IO) || errs.StageOf(err) != errs.Loading {
		t.Fatalf("expected a loading IOError but got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "w")); !os.IsNotExist(err) {
		t.Error("weights folder should not be created")
	}
}

func TestTrainConfig(t *testing.T) {
	opts := &options{
		Out:          "out",
		Window:       7,
		Epochs:       3,
		Batch:        5,
		Mode:         "Overwrite",
		SplitHeads:   true,
		LearningRate: 0.01,
		Optimizer:    "ADAM",
	}
	cfg, err := opts.trainConfig("melodies.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MelodiesPath != "melodies.json" || cfg.WeightsDir != "out" ||
		cfg.WindowLength != 7 || cfg.Epochs != 3 || cfg.BatchSize != 5 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Mode != train.Overwrite || !cfg.Model.SplitHeads || cfg.Optimizer != "adam" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	opts.Mode = "sometimes"
	if _, err := opts.trainConfig("melodies.json"); !errs.Is(err, errs.Validation) {
		t.Errorf("expected ValidationError but got %v", err)
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("PHRYGIAN_EPOCHS", "12")
	t.Setenv("PHRYGIAN_OUT", filepath.Join(t.TempDir(), "elsewhere"))
	t.Setenv("PHRYGIAN_BATCH", "9")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.json"), "--batch", "3",
		"--no-progress"})
	if err := cmd.Execute(); !errs.Is(err, errs.IO) {
		t.Fatalf("expected IOError but got %v", err)
	}
	if v, _ := cmd.Flags().GetInt("epochs"); v != 12 {
		t.Errorf("expected 12 epochs but got %d", v)
	}
	if v, _ := cmd.Flags().GetString("out"); filepath.Base(v) != "elsewhere" {
		t.Errorf("expected elsewhere but got %s", v)
	}
	if v, _ := cmd.Flags().GetInt("batch"); v != 3 {
		t.Errorf("command line should win, got batch size %d", v)
	}
}

func TestEnvInvalid(t *testing.T) {
	t.Setenv("PHRYGIAN_BATCH", "not a number")
	_, err := execute(filepath.Join(t.TempDir(), "missing.json"), "--no-progress")
	if !errs.Is(err, errs.Validation) || !strings.Contains(err.Error(), "PHRYGIAN_BATCH") {
		t.Errorf("expected ValidationError naming the variable but got %v", err)
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "dotenv-weights")
	env := "PHRYGIAN_OUT=" + out + "\nPHRYGIAN_EPOCHS=4\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Cleanup(func() {
		os.Unsetenv("PHRYGIAN_OUT")
		os.Unsetenv("PHRYGIAN_EPOCHS")
	})

	help, err := execute("--help")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(help, "dotenv-weights") {
		t.Errorf(".env should not be read for help: %q", help)
	}
	if _, err := execute(); err == nil {
		t.Error("expected an argument count error")
	}
	if _, ok := os.LookupEnv("PHRYGIAN_OUT"); ok {
		t.Error(".env should not be loaded for help or usage errors")
	}

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"missing.json", "--no-progress"})
	if err := cmd.Execute(); !errs.Is(err, errs.IO) {
		t.Fatalf("expected IOError but got %v", err)
	}
	if v, _ := cmd.Flags().GetString("out"); v != out {
		t.Errorf("expected %s from .env but got %s", out, v)
	}
	if v, _ := cmd.Flags().GetInt("epochs"); v != 4 {
		t.Errorf("expected 4 epochs from .env but got %d", v)
	}
}
