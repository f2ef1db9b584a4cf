// Package inject discovers test artifacts and feeds them to a running engine
// one at a time.
//
// Every submission is followed by a barrier: the next artifact is not sent
// until the engine has processed the previous one and its log output has
// reached the sink. The sink checkpoints taken around each barrier let the
// harness attribute every log line to the artifact that produced it.
package inject
