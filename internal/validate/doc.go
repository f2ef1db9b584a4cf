// Package validate scans a closed engine log for error signatures.
//
// A validation failure is a result, not an error: Validate returns
// Result{Passed: false} with every matching line as evidence. Errors are
// reserved for logs that cannot be judged yet (still open or growing) or
// cannot be read.
package validate
