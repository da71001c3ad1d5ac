//go:build riscv64

package main

// The constructor fires only on the platform whose machine code this
// library rewrites; everywhere else the package is inert, which is
// what lets the planner, scanner, and dispatcher logic be exercised by
// `go test` on a development host without the test binary trying to
// patch its own (libc-free) address space.
func init() {
	startup()
}
