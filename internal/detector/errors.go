package detector

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad is returned when the model file is missing, cannot be
	// parsed, or lacks the configured input and outputs.
	ErrModelLoad = errors.New("model load failed")

	// ErrUnsupportedBatchSize is returned for batches of more than one frame.
	ErrUnsupportedBatchSize = errors.New("batch inference not supported")

	// ErrInferenceRuntime is returned when the execution step fails. The
	// session stays usable and the call may be retried.
	ErrInferenceRuntime = errors.New("inference failed")

	// ErrLabelIndexOutOfRange is returned when the network emits a class id
	// with no entry in the label table.
	ErrLabelIndexOutOfRange = errors.New("class label index out of range")

	// ErrInferenceTimeout is returned when a frame exceeds its deadline.
	ErrInferenceTimeout = errors.New("inference timed out")
)

// LabelIndexError carries the offending class id.
type LabelIndexError struct {
	Slot      int
	ClassID   int
	TableSize int
}

func (e *LabelIndexError) Error() string {
	return fmt.Sprintf("%v: class id %d at slot %d (table has %d labels)",
		ErrLabelIndexOutOfRange, e.ClassID, e.Slot, e.TableSize)
}

func (e *LabelIndexError) Unwrap() error { return ErrLabelIndexOutOfRange }
