package main

import (
	"debug/elf"
	"fmt"
	"path/filepath"
	"strings"
)

// selfMarker is never read for its value; its address is used only to
// find which /proc/self/maps mapping contains this binary's own code,
// so the enumerator can skip the interceptor itself.
var selfMarker byte

func selfMarkerAddr() uintptr {
	return uintptr(ptrOf(&selfMarker))
}

// shortName is the path component after the last '/', truncated at the
// first '-' or '.': "libc.so.6" -> "libc", "libpthread-2.31.so" -> "libpthread".
func shortName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexAny(base, "-."); i >= 0 {
		base = base[:i]
	}
	return base
}

// enumerateObjects walks /proc/self/maps (standing in for the
// loader's own per-object header list, see DESIGN.md), resolves each
// distinct object's on-disk path, and filters to the set this process
// will attempt to patch.
func enumerateObjects(cfg *config) ([]*ObjectDescriptor, error) {
	entries, err := readProcSelfMaps()
	if err != nil {
		return nil, err
	}

	vdso := vdsoBase()
	selfAddr := selfMarkerAddr()
	selfPath, _ := pathForAddr(entries, selfAddr)

	seen := make(map[string]bool)
	var ordered []string
	for _, e := range entries {
		if e.pathname == "" || seen[e.pathname] {
			continue
		}
		seen[e.pathname] = true
		ordered = append(ordered, e.pathname)
	}

	var objs []*ObjectDescriptor
	foundLibc := false

	for _, path := range ordered {
		if path == "[vdso]" {
			continue
		}
		m, ok := firstMappingFor(entries, path)
		if ok && vdso != 0 && m.start == vdso {
			continue
		}
		if path == selfPath {
			continue
		}

		sn := shortName(path)
		if sn == disassemblerShortName {
			continue
		}

		if sn == "libc" {
			foundLibc = true
		}

		if !cfg.patchAllObjs && sn != "libc" && sn != "libpthread" {
			continue
		}

		obj, err := scanObject(path, entries)
		if err != nil {
			return nil, fmt.Errorf("scanning object %s: %v", path, err)
		}
		if obj != nil {
			objs = append(objs, obj)
		}
	}

	if !foundLibc {
		return nil, fmt.Errorf("libc not found in this process's address space")
	}

	return objs, nil
}

// disassemblerShortName is the short name of the library that would
// own the disassembler if it shipped as a separate shared object. The
// disassembler here (internal/riscvdis) is compiled directly into the
// binary rather than loaded as its own .so, so the exclusion never
// matches in practice; an empty string means "skip this exclusion",
// which is what happens.
const disassemblerShortName = ""

// scanObject opens path as an ELF file, locates its base load address
// from the maps entries, and builds an ObjectDescriptor whose text
// scanning is deferred to textscan.go so objects.go stays limited to
// discovery and filtering.
func scanObject(path string, entries []mapsEntry) (*ObjectDescriptor, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ELF: %v", err)
	}
	defer ef.Close()

	base, ok := objectBaseAddr(path, ef, entries)
	if !ok {
		return nil, fmt.Errorf("could not determine load base address")
	}

	start, end, ok := executableSpan(ef, base)
	if !ok {
		return nil, fmt.Errorf("no executable PT_LOAD segment")
	}

	return &ObjectDescriptor{Path: path, BaseAddr: base, TextStart: start, TextEnd: end}, nil
}

// executableSpan returns the runtime address range covered by this
// object's executable PT_LOAD segment(s). Libc and libpthread each carry
// exactly one; when more than one is present the span covers the lowest
// start to the highest end, which is always a superset of the real text
// and safe for the scanner to walk (non-instruction bytes inside it are
// rejected by the decoder as Unknown, never mistaken for a patch site).
func executableSpan(ef *elf.File, base uintptr) (uintptr, uintptr, bool) {
	var lo, hi uintptr
	found := false
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		segLo := base + uintptr(p.Vaddr)
		segHi := segLo + uintptr(p.Filesz)
		if !found || segLo < lo {
			lo = segLo
		}
		if !found || segHi > hi {
			hi = segHi
		}
		found = true
	}
	return lo, hi, found
}

// objectBaseAddr derives the runtime base address of a mapped ELF object:
// for a position-independent object (ET_DYN, the common case for both
// PIE executables and shared libraries) the base is the lowest mapped
// virtual address for this path minus that segment's own p_vaddr; for a
// non-PIE executable (ET_EXEC) segments already carry their absolute
// load address, so the base is zero.
func objectBaseAddr(path string, ef *elf.File, entries []mapsEntry) (uintptr, bool) {
	if ef.Type == elf.ET_EXEC {
		return 0, true
	}

	var lowestVAddr uint64 = ^uint64(0)
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			if p.Vaddr < lowestVAddr {
				lowestVAddr = p.Vaddr
			}
		}
	}
	if lowestVAddr == ^uint64(0) {
		return 0, false
	}

	m, ok := firstMappingFor(entries, path)
	if !ok {
		return 0, false
	}
	return m.start - uintptr(lowestVAddr), true
}
