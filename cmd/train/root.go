package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/Daniel-del-Castillo/Phrygian"
	"github.com/Daniel-del-Castillo/Phrygian/encode"
	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/train"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/unixpickle/rip"
	pb "gopkg.in/cheggaaa/pb.v1"
)

type options struct {
	Out          string
	Window       int
	Epochs       int
	Batch        int
	Seed         int64
	Validation   float64
	Mode         string
	Journal      string
	SplitHeads   bool
	LearningRate float64
	Optimizer    string
	MemoryLimit  int64
	Verbose      bool
	NoProgress   bool
}

// envPrefix names the environment variables that supply
// defaults for flags: --learning-rate is read from
// PHRYGIAN_LEARNING_RATE.
const envPrefix = "PHRYGIAN_"

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "train <processed-melodies-file>",
		Short: "Train a melody model",
		Long: "Train a stacked-LSTM model on a processed-melodies file and write\n" +
			"checkpoints and the vocabulary to a weights folder.\n\n" +
			"Flags not given on the command line are read from PHRYGIAN_*\n" +
			"environment variables, which may come from a .env file.",
		Args: cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return applyEnv(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.ErrOrStderr(), args[0], &opts)
		},
		SilenceErrors: true,
	}

	f := cmd.Flags()
	f.StringVar(&opts.Out, "out", phrygian.DefaultWeightsDir, "weights destination folder")
	f.IntVar(&opts.Window, "window", encode.DefaultWindowLength, "notes per training window")
	f.IntVar(&opts.Epochs, "epochs", train.DefaultEpochs, "number of epochs")
	f.IntVar(&opts.Batch, "batch", train.DefaultBatchSize, "mini-batch size")
	f.Int64Var(&opts.Seed, "seed", 0, "random seed, 0 for the current time")
	f.Float64Var(&opts.Validation, "validation", 0,
		"fraction of windows held out to monitor loss")
	f.StringVar(&opts.Mode, "mode", "version", "checkpoint mode: version or overwrite")
	f.StringVar(&opts.Journal, "journal", "", "SQLite run journal path")
	f.BoolVar(&opts.SplitHeads, "split-heads", false,
		"normalize pitch and duration outputs separately")
	f.Float64Var(&opts.LearningRate, "learning-rate", train.DefaultLearningRate,
		"optimizer step size")
	f.StringVar(&opts.Optimizer, "optimizer", "rmsprop",
		"rmsprop, centered-rmsprop, adam, momentum or nesterov")
	f.Int64Var(&opts.MemoryLimit, "memory-limit", 0,
		"activation memory budget in bytes, 0 for the runtime limit")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug information")
	f.BoolVar(&opts.NoProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

// applyEnv loads .env from the working directory, if any,
// and sets every flag that was not given explicitly from
// its environment variable.
// Variables already in the environment win over .env.
func applyEnv(flags *pflag.FlagSet) error {
	_ = godotenv.Load()

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "help" {
			return
		}
		key := envKey(f.Name)
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			return
		}
		if setErr := flags.Set(f.Name, value); setErr != nil {
			err = errs.Newf(errs.Validation, errs.Training, "invalid %s: %v", key, setErr)
		}
	})
	return err
}

func envKey(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func runTrain(stderr io.Writer, path string, opts *options) error {
	cfg, err := opts.trainConfig(path)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(stderr)
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg.Logger = log

	if !opts.NoProgress {
		var bar *pb.ProgressBar
		cfg.OnBatch = func(done, total int) {
			if bar == nil {
				bar = pb.New(total)
				bar.Output = stderr
				bar.Start()
			}
			bar.Set(done)
		}
		cfg.OnEpoch = func(s *train.EpochStatus) {
			if bar != nil {
				bar.Finish()
				bar = nil
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-rip.NewRIP().Chan():
			log.Warn("interrupt received, stopping after the current batch")
			cancel()
		case <-ctx.Done():
		}
	}()

	handle, err := phrygian.Train(ctx, cfg)
	if err != nil {
		return err
	}
	fields := logrus.Fields{
		"dir":        handle.Dir,
		"vocabulary": handle.Vocabulary,
		"epochs":     handle.Epochs,
	}
	if handle.Best != "" {
		fields["best"] = handle.Best
		fields["loss"] = handle.BestLoss
	}
	if handle.Inference != "" {
		fields["inference"] = handle.Inference
	}
	entry := log.WithFields(fields)
	if len(handle.Failed) > 0 {
		entry.WithField("failed", len(handle.Failed)).Warn("some checkpoints were not saved")
	}
	if handle.Interrupted {
		entry.Warn("training interrupted")
	} else {
		entry.Info("training finished")
	}
	return nil
}

func (o *options) trainConfig(path string) (phrygian.TrainConfig, error) {
	var mode train.Mode
	switch strings.ToLower(o.Mode) {
	case "version":
		mode = train.Version
	case "overwrite":
		mode = train.Overwrite
	default:
		return phrygian.TrainConfig{}, errs.Newf(errs.Validation, errs.Training,
			"unknown checkpoint mode: %s", o.Mode)
	}
	cfg := phrygian.TrainConfig{
		MelodiesPath:       path,
		WeightsDir:         o.Out,
		WindowLength:       o.Window,
		Epochs:             o.Epochs,
		BatchSize:          o.Batch,
		LearningRate:       o.LearningRate,
		Optimizer:          strings.ToLower(o.Optimizer),
		ValidationFraction: o.Validation,
		Mode:               mode,
		MemoryLimit:        o.MemoryLimit,
		Seed:               o.Seed,
		JournalPath:        o.Journal,
	}
	cfg.Model.SplitHeads = o.SplitHeads
	return cfg, nil
}
