//go:build riscv64

package main

// interceptEntry is the shared assembly entry point every activated
// patch eventually reaches, directly (GW) or through its object's
// trampoline. Implemented in entry_riscv64.s; its address
// (entryAddress, intercept.go) is what the planner/activator wire every
// GW patch's indirect jump to.
func interceptEntry()
