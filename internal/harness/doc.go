// Package harness runs suites against a real engine process and judges
// the engine's log.
//
// # Suite Format
//
// Suites are YAML (suite.yaml) or CUE (suite.cue) files:
//
//	name: complex_unit
//	description: "Inject Complex.mon and every unit test monitor"
//	engine:
//	  command: ["correlator", "--name", "{name}", "--port", "{port}"]
//	  name: correlator
//	artifacts:
//	  dir: "."
//	  suffix: ".mon"
//	  prelude: ["../../../Complex.mon"]
//	log:
//	  file: correlator.log
//	  error_signature: " ERROR "
//	timeouts:
//	  start: 30s
//	  barrier: 60s
//	assertions:
//	  - type: injected
//	    artifact: a.mon
//	  - type: evidence_count
//	    count: 0
//
// Paths are relative to the suite file. CUE suites are checked against the
// #Suite definition in schema.cue; both formats reject unknown fields.
//
// # Run Lifecycle
//
// A run moves through
//
//	Idle → SessionStarting → Injecting(n) → ShuttingDown → Validating → Done
//
// and may end in Failed from any phase after Idle. A run whose engine
// started always shuts it down, and validates the log whenever the sink
// was closed, so even a failed run carries its evidence. Evidence lines are
// attributed to the artifact whose barrier window contains them, or to
// "startup" / "shutdown".
//
// # Assertion Types
//
//   - injected: the engine accepted the artifact
//   - injection_order: artifacts were accepted in the given relative order
//   - evidence_count: exactly N evidence lines
//   - evidence_from: some evidence is attributed to the artifact
//   - log_contains: text appears somewhere in the log
//
// # Deterministic Testing
//
// Snapshot renders a result without run IDs, paths or times, so golden
// files stay stable across runs; see RunWithGolden.
package harness
