package harness

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/corrharness/internal/inject"
	"github.com/roach88/corrharness/internal/session"
	"github.com/roach88/corrharness/internal/validate"
)

//go:embed schema.cue
var suiteSchema string

// Suite defines one harness run: which engine to start, which artifacts
// to feed it, and how to judge its log.
type Suite struct {
	// Name identifies the suite; it names the output directory and the
	// golden snapshot.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Engine    EngineSpec    `yaml:"engine" json:"engine"`
	Artifacts ArtifactsSpec `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Log       LogSpec       `yaml:"log,omitempty" json:"log,omitempty"`
	Timeouts  TimeoutsSpec  `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`

	// StrictInjection fails the run on any rejected or failed injection.
	StrictInjection bool `yaml:"strict_injection,omitempty" json:"strict_injection,omitempty"`

	// Expect is "pass" (default) or "fail". An expected failure inverts
	// only the log verdict; lifecycle errors still fail the run.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`

	// Assertions are checked after validation.
	// Supported types: injected, injection_order, evidence_count,
	// evidence_from, log_contains
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`

	// Dir is the directory of the suite file. Relative paths in the suite
	// are resolved against it.
	Dir string `yaml:"-" json:"-"`
}

// EngineSpec describes the engine process.
type EngineSpec struct {
	// Command is the engine argv; see session.Config for placeholders.
	Command []string `yaml:"command" json:"command"`

	// Name is the session identity, "engine" if empty.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// ArtifactsSpec selects the artifacts to inject.
type ArtifactsSpec struct {
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Suffix string `yaml:"suffix,omitempty" json:"suffix,omitempty"`

	// Prelude artifacts are injected first, in the order given.
	Prelude []string `yaml:"prelude,omitempty" json:"prelude,omitempty"`
}

// LogSpec names the log sink and the error signature.
type LogSpec struct {
	File           string `yaml:"file,omitempty" json:"file,omitempty"`
	ErrorSignature string `yaml:"error_signature,omitempty" json:"error_signature,omitempty"`
	ErrorPattern   string `yaml:"error_pattern,omitempty" json:"error_pattern,omitempty"`
}

// TimeoutsSpec holds Go duration strings such as "30s".
type TimeoutsSpec struct {
	Start     string `yaml:"start,omitempty" json:"start,omitempty"`
	Barrier   string `yaml:"barrier,omitempty" json:"barrier,omitempty"`
	Shutdown  string `yaml:"shutdown,omitempty" json:"shutdown,omitempty"`
	KillGrace string `yaml:"kill_grace,omitempty" json:"kill_grace,omitempty"`
}

// Assertion checks a property of a finished run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "injected": artifact was injected (accepted by the engine)
	// - "injection_order": artifacts were injected in this relative order
	// - "evidence_count": exactly Count evidence lines
	// - "evidence_from": at least one evidence line attributed to artifact
	// - "log_contains": text appears somewhere in the log
	Type string `yaml:"type" json:"type"`

	Artifact  string   `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Artifacts []string `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Count     *int     `yaml:"count,omitempty" json:"count,omitempty"`
	Text      string   `yaml:"text,omitempty" json:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertInjected       = "injected"
	AssertInjectionOrder = "injection_order"
	AssertEvidenceCount  = "evidence_count"
	AssertEvidenceFrom   = "evidence_from"
	AssertLogContains    = "log_contains"
)

// Expectations.
const (
	ExpectPass = "pass"
	ExpectFail = "fail"
)

// DefaultEngineName is the session identity used when the suite names none.
const DefaultEngineName = "engine"

// Suite file names recognised in a suite directory, in lookup order.
var SuiteFileNames = []string{"suite.yaml", "suite.yml", "suite.cue"}

// LoadSuite reads a suite file. The format follows the extension: .cue
// files are validated against the embedded #Suite schema, anything else is
// parsed as YAML. Unknown fields are rejected in both formats.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	var suite *Suite
	if filepath.Ext(path) == ".cue" {
		suite, err = parseCUE(path, data)
	} else {
		suite, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve suite directory: %w", err)
	}
	suite.Dir = abs
	suite.applyDefaults()

	if err := suite.Validate(); err != nil {
		return nil, fmt.Errorf("invalid suite: %w", err)
	}
	return suite, nil
}

// FindSuiteFile returns the suite file inside dir, or "" if there is none.
func FindSuiteFile(dir string) string {
	for _, name := range SuiteFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

func parseYAML(data []byte) (*Suite, error) {
	var suite Suite
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&suite); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &suite, nil
}

func parseCUE(path string, data []byte) (*Suite, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(suiteSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile suite schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}

	v = schema.LookupPath(cue.ParsePath("#Suite")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("suite does not match schema: %w", err)
	}

	var suite Suite
	if err := v.Decode(&suite); err != nil {
		return nil, fmt.Errorf("decode suite: %w", err)
	}
	return &suite, nil
}

func (s *Suite) applyDefaults() {
	if s.Engine.Name == "" {
		s.Engine.Name = DefaultEngineName
	}
	if s.Artifacts.Dir == "" {
		s.Artifacts.Dir = "."
	}
	if s.Artifacts.Suffix == "" {
		s.Artifacts.Suffix = inject.DefaultSuffix
	}
	if s.Log.File == "" {
		s.Log.File = s.Engine.Name + ".log"
	}
	if s.Expect == "" {
		s.Expect = ExpectPass
	}
}

// Validate checks required fields and value ranges.
func (s *Suite) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) || s.Name == "." || s.Name == ".." {
		return fmt.Errorf("name %q must be a plain file name", s.Name)
	}
	if len(s.Engine.Command) == 0 || s.Engine.Command[0] == "" {
		return errors.New("engine.command is required and must be non-empty")
	}
	if filepath.Base(s.Log.File) != s.Log.File {
		return fmt.Errorf("log.file %q must be a plain file name", s.Log.File)
	}
	if _, err := s.Signature().Compile(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if _, err := s.timeouts(); err != nil {
		return err
	}
	switch s.Expect {
	case "", ExpectPass, ExpectFail:
	default:
		return fmt.Errorf("expect must be %q or %q, got %q", ExpectPass, ExpectFail, s.Expect)
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertInjected, AssertEvidenceFrom:
		if a.Artifact == "" {
			return fmt.Errorf("assertions[%d]: artifact is required for %s", index, a.Type)
		}
	case AssertInjectionOrder:
		if len(a.Artifacts) < 2 {
			return fmt.Errorf("assertions[%d]: artifacts needs at least two entries for injection_order", index)
		}
	case AssertEvidenceCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for evidence_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for evidence_count", index)
		}
	case AssertLogContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for log_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Signature returns the log error signature.
func (s *Suite) Signature() validate.Signature {
	return validate.Signature{Substring: s.Log.ErrorSignature, Pattern: s.Log.ErrorPattern}
}

// ArtifactDir returns the artifact directory, resolved against Dir.
func (s *Suite) ArtifactDir() string {
	return s.resolve(s.Artifacts.Dir)
}

func (s *Suite) resolve(p string) string {
	if filepath.IsAbs(p) || s.Dir == "" {
		return p
	}
	return filepath.Join(s.Dir, p)
}

type timeouts struct {
	start, barrier, shutdown, killGrace time.Duration
}

func (s *Suite) timeouts() (timeouts, error) {
	var t timeouts
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.start", s.Timeouts.Start, &t.start},
		{"timeouts.barrier", s.Timeouts.Barrier, &t.barrier},
		{"timeouts.shutdown", s.Timeouts.Shutdown, &t.shutdown},
		{"timeouts.kill_grace", s.Timeouts.KillGrace, &t.killGrace},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return timeouts{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if d <= 0 {
			return timeouts{}, fmt.Errorf("%s must be positive, got %s", f.name, f.raw)
		}
		*f.dst = d
	}
	return t, nil
}

// ControllerConfig builds the session controller configuration. A
// relative engine binary path containing a separator is resolved against
// the suite directory; bare names are looked up in PATH by the OS.
func (s *Suite) ControllerConfig(logger *slog.Logger) (session.Config, error) {
	t, err := s.timeouts()
	if err != nil {
		return session.Config{}, err
	}

	command := append([]string(nil), s.Engine.Command...)
	if strings.ContainsRune(command[0], filepath.Separator) || strings.ContainsRune(command[0], '/') {
		command[0] = s.resolve(command[0])
	}

	env := make([]string, 0, len(s.Engine.Env))
	for _, k := range slices.Sorted(maps.Keys(s.Engine.Env)) {
		env = append(env, k+"="+s.Engine.Env[k])
	}

	dir := s.Engine.Dir
	if dir != "" {
		dir = s.resolve(dir)
	}

	return session.Config{
		Command:         command,
		Dir:             dir,
		Env:             env,
		StartTimeout:    t.start,
		BarrierTimeout:  t.barrier,
		ShutdownTimeout: t.shutdown,
		KillGrace:       t.killGrace,
		Logger:          logger,
	}, nil
}
