package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// mapsEntry is one parsed line of /proc/self/maps.
type mapsEntry struct {
	start, end uintptr
	perms      string
	pathname   string
}

// readProcSelfMaps parses /proc/self/maps. It is the Go-native
// stand-in for walking the loader's link-map: this process has no cgo
// binding to dl_iterate_phdr, so instead of the glibc-provided
// per-object header list, the object enumerator reads the same
// information the kernel already publishes for this process (see
// DESIGN.md's "Open Questions" entry on this substitution).
func readProcSelfMaps() ([]mapsEntry, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("reading /proc/self/maps: %v", err)
	}
	defer f.Close()

	var entries []mapsEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		rangeParts := strings.SplitN(fields[0], "-", 2)
		if len(rangeParts) != 2 {
			continue
		}
		start, err := strconv.ParseUint(rangeParts[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(rangeParts[1], 16, 64)
		if err != nil {
			continue
		}
		e := mapsEntry{start: uintptr(start), end: uintptr(end), perms: fields[1]}
		if len(fields) >= 6 {
			e.pathname = fields[5]
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning /proc/self/maps: %v", err)
	}
	return entries, nil
}

// pathForAddr returns the pathname of the first mapping that contains
// addr; enumerateObjects uses it to find the mapping holding this
// library's own code so that object can be skipped.
func pathForAddr(entries []mapsEntry, addr uintptr) (string, bool) {
	for _, e := range entries {
		if addr >= e.start && addr < e.end {
			return e.pathname, e.pathname != ""
		}
	}
	return "", false
}

// firstMappingFor returns the first mapping, in the order entries lists
// them, whose pathname equals path. /proc/self/maps lists mappings in
// ascending address order, so for parsed maps this is the object's
// lowest-addressed mapping.
func firstMappingFor(entries []mapsEntry, path string) (mapsEntry, bool) {
	for _, e := range entries {
		if e.pathname == path {
			return e, true
		}
	}
	return mapsEntry{}, false
}
