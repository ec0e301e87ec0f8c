// Package steps implements the step registry and the built-in steps of
// package manifests.
//
// A manifest phase is a list of step elements. The registry turns each
// element into a Node when the manifest is parsed, checking that the step
// exists and that its properties are known, unique and complete. Properties
// are bound to a fresh step instance only right before the step runs, so
// that values of the form "@name" see variables assigned by earlier steps.
//
// Built-in steps:
//
//   - Trace writes a line to the console.
//   - Assign sets a variable.
//   - StartRepository starts the content repository for the phase.
//   - Script runs a Starlark program that can read and set variables.
package steps
