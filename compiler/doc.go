// Package compiler turns a trigger into the complete set of jobs it will
// ever run: one chain per subscriber, one job per template step.
//
// Chains are built whole and persisted in a single batch, so a trigger either
// exists with all of its jobs or not at all. Deferred steps get their due
// time at compile time, from the trigger's override for the step type when
// one is present, otherwise from the step metadata.
package compiler
