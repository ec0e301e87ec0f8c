// Package packaging executes packages against a package storage.
//
// Executor runs one phase of a manifest package at a time. Phase 0 is
// admitted by the prerequisite checks and the optional policy gate; a
// rejected package is recorded as Faulty. Every phase runs its steps in
// document order and the first failing step aborts the phase. A phase that
// is not the last one leaves the record Unfinished and sets NeedRestart;
// the host restarts and asks for the next phase, which resumes the same
// record:
//
//	exec := packaging.NewExecutor(store, packaging.WithPolicyGate(gate))
//	result, err := exec.ExecutePackage(ctx, packaging.Request{Text: text})
//	if err == nil && result.NeedRestart {
//		// restart, then run result.NextPhase()
//	}
//
// Patcher resolves a catalogue against the installed components and runs
// the executable descriptors in order, through manifests or native actions.
package packaging
