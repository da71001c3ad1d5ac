package main

import "testing"

func TestShortName(t *testing.T) {
	cases := map[string]string{
		"/usr/lib/riscv64-linux-gnu/libc.so.6":       "libc",
		"/usr/lib/riscv64-linux-gnu/libpthread-2.31.so": "libpthread",
		"/usr/lib/riscv64-linux-gnu/libm.so.6":       "libm",
		"noext":                                      "noext",
	}
	for in, want := range cases {
		if got := shortName(in); got != want {
			t.Errorf("shortName(%q) = %q, want %q", in, got, want)
		}
	}
}
