// Package status defines the pluggable progress/logging collaborator (spec
// §6) threaded as an explicit argument through reconcilers, rather than
// stashed on the client (see spec §9 "Status plumbing").
package status

// Status is the collaborator interface reconcilers and the request gateway
// report progress through. The optional progress-bar style hooks
// (Add/Done/SetStages/DoneStage) are not part of it; they live in the
// separate Progress interface below.
type Status interface {
	Log(args ...interface{})
	Warn(args ...interface{})
	Debug(args ...interface{})
}

// Progress is the optional extension of Status for long-running batch
// operations. Implementations of Status may also implement Progress; no
// code in this module type-asserts for it.
type Progress interface {
	Add(n int)
	Done(n ...int)
	SetStages(n int)
	DoneStage()
}
