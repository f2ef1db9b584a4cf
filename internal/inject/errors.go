package inject

import (
	"errors"
	"fmt"

	"github.com/roach88/corrharness/internal/engine"
)

// ErrModified means an artifact changed on disk after discovery.
var ErrModified = errors.New("artifact modified since discovery")

// Injection stages.
const (
	StageRead    = "read"
	StageSubmit  = "submit"
	StageBarrier = "barrier"
)

// InjectionError reports an artifact that could not be injected or whose
// barrier did not complete.
type InjectionError struct {
	Artifact Artifact
	Stage    string
	Err      error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("inject %s (%s): %v", e.Artifact.Name, e.Stage, e.Err)
}

func (e *InjectionError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the engine refused the artifact, as opposed
// to the submission failing for another reason.
func (e *InjectionError) Rejected() bool {
	return e.Stage == StageSubmit && engine.IsRejection(e.Err)
}

// IsInjectionError reports whether err is or wraps an *InjectionError.
func IsInjectionError(err error) bool {
	var ie *InjectionError
	return errors.As(err, &ie)
}
