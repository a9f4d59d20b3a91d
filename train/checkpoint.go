package train

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/model"
	"github.com/Daniel-del-Castillo/Phrygian/vocab"
	"github.com/oklog/ulid/v2"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Checkpoint
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeCheckpoint)
}

// A Checkpoint is a snapshot of a model together with
// everything needed to decode its outputs.
type Checkpoint struct {
	Epoch        int
	Loss         float64
	WindowLength int
	Pitches      *vocab.Vocabulary
	Durations    *vocab.Vocabulary
	Model        *model.Model
}

// DeserializeCheckpoint deserializes a Checkpoint.
func DeserializeCheckpoint(d []byte) (*Checkpoint, error) {
	var epoch, window serializer.Int
	var loss serializer.Float64
	var res Checkpoint
	err := serializer.DeserializeAny(d, &epoch, &loss, &window, &res.Pitches,
		&res.Durations, &res.Model)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Checkpoint", err)
	}
	res.Epoch = int(epoch)
	res.Loss = float64(loss)
	res.WindowLength = int(window)
	return &res, nil
}

// LoadCheckpoint reads a Checkpoint from a file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.IO, errs.Training, err)
	}
	var res *Checkpoint
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, errs.New(errs.Parse, errs.Training, essentials.AddCtx(path, err))
	}
	return res, nil
}

// SerializerType returns the unique ID used to serialize
// a Checkpoint with the serializer package.
func (c *Checkpoint) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/train.Checkpoint"
}

// Serialize serializes the Checkpoint.
func (c *Checkpoint) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(c.Epoch),
		serializer.Float64(c.Loss),
		serializer.Int(c.WindowLength),
		c.Pitches,
		c.Durations,
		c.Model,
	)
}

// Save writes the Checkpoint to path atomically.
func (c *Checkpoint) Save(path string) error {
	data, err := serializer.SerializeAny(c)
	if err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	return WriteFileAtomic(path, data)
}

// A Mode decides how successive improvements are stored.
type Mode int

const (
	// Version keeps every improving checkpoint in its own
	// file.
	Version Mode = iota

	// Overwrite keeps only the best checkpoint.
	Overwrite
)

// BestName is the checkpoint file name used in Overwrite
// mode.
const BestName = "best.ckpt"

// checkpointName picks the file name for a checkpoint.
func (m Mode) checkpointName(epoch int, loss float64) string {
	if m == Overwrite {
		return BestName
	}
	return fmt.Sprintf("weights-%03d-%.4f-%s.ckpt", epoch, loss, ulid.Make())
}

// WriteFileAtomic writes data to a temporary file in the
// destination directory, syncs it, and renames it over
// path.
// Readers of path see either the old or the new contents.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return essentials.AddCtx("write "+path, err)
	}
	tmpName := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
			err = essentials.AddCtx("write "+path, err)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
