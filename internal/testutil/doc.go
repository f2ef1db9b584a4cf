// Package testutil provides shared helpers for tests that drive a real
// engine process.
//
// MockEngine builds testdata/mock-engine once per test binary and returns an
// engine command line for it. The mock speaks the harness control protocol
// and interprets a small artifact language (see its package comment), so
// tests can script exactly which log lines appear while each artifact is
// processed.
package testutil
