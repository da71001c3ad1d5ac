package main

import (
	"fmt"
	"os"
	"reflect"
)

// HookFunc observes one intercepted syscall: return 0 to suppress the
// real call (the caller then sees *result as its return value),
// non-zero to forward it to the kernel. The hook runs on the thread
// that issued the syscall and must use NoIntercept for any kernel
// services of its own; a plain standard-library call from inside a
// hook would recurse straight back into patched code.
type HookFunc func(nr, a0, a1, a2, a3, a4, a5 uintptr, result *uintptr) int

var (
	hookPoint       HookFunc
	hookCloneChild  func()
	hookCloneParent func(tid uintptr)
)

// SetHookPoint installs the process's single global hook. There is no
// hook chaining; a second call replaces the first. A host program
// installs its hook from its own init so it is in place before any of
// its code can reach a patched site.
func SetHookPoint(fn HookFunc) { hookPoint = fn }

// SetCloneChildHook installs the function invoked on the child side of
// a same-stack clone, exactly once, before any hooked syscall runs in
// the child.
func SetCloneChildHook(fn func()) { hookCloneChild = fn }

// SetCloneParentHook installs the function invoked on the parent side
// of a same-stack clone with the child's tid.
func SetCloneParentHook(fn func(tid uintptr)) { hookCloneParent = fn }

// NoIntercept performs a syscall through the raw trap path that
// bypasses every patched site. Hooks use this to reach the kernel
// without re-entering the dispatcher.
func NoIntercept(nr, a0, a1, a2, a3, a4, a5 uintptr) uintptr {
	return noIntercept6(nr, a0, a1, a2, a3, a4, a5)
}

func currentHook() HookFunc { return hookPoint }

func callHookCloneChild() {
	if hookCloneChild != nil {
		hookCloneChild()
	}
}

func callHookCloneParent(tid uintptr) {
	if hookCloneParent != nil {
		hookCloneParent(tid)
	}
}

// gwReach is the effective range of the auipc+jalr idiom emitAbsJump
// uses for a GW patch's indirect jump: auipc's 20-bit upper immediate
// shifted by 12, plus jalr's signed 12-bit low immediate, together
// span a touch over ±2GiB.
const gwReach = 1 << 31

// startup is this library's constructor body, run from init on the
// target platform (constructor_riscv64.go): by the time any other
// package's init or the host program's main runs, every selected
// object's syscall sites are patched, or the process has already
// aborted with a single diagnostic line. There is no partial success -
// a process with some sites patched and some not would behave
// differently across otherwise identical call sites.
func startup() {
	cfg := loadConfig()
	if err := openLog(cfg); err != nil {
		abort("%v", err)
	}

	objs, err := enumerateObjects(cfg)
	if err != nil {
		abort("%v", err)
	}

	for _, obj := range objs {
		if err := textScanObject(obj); err != nil {
			abort("scanning %s: %v", obj.Path, err)
		}
		if err := planObject(obj); err != nil {
			abort("planning %s: %v", obj.Path, err)
		}
	}

	if err := verifyPatchLayout(objs); err != nil {
		abort("%v", err)
	}

	entry := entryAddress()
	if err := decideTrampolines(objs, entry); err != nil {
		abort("%v", err)
	}

	total := 0
	for _, obj := range objs {
		total += len(obj.Patches)
	}

	buf, err := allocExecBuffer(relocBufferSize(total))
	if err != nil {
		abort("%v", err)
	}
	w := newRelocationWriter(uintptr(ptrOf(&buf[0])), entry)
	if err := buildRelocations(objs, w); err != nil {
		abort("%v", err)
	}
	if w.buf.len() > len(buf) {
		abort("relocation buffer exhausted: emitted %d bytes into %d", w.buf.len(), len(buf))
	}
	copy(buf, w.buf.bytes())
	fenceI()
	if err := sealExecBuffer(buf); err != nil {
		abort("%v", err)
	}

	for _, obj := range objs {
		if err := activateObject(obj, entry); err != nil {
			abort("activating %s: %v", obj.Path, err)
		}
	}

	registerPatches(objs)

	if Verbose {
		fmt.Fprintf(os.Stderr, "sysgate: patched %d syscall sites across %d objects\n", total, len(objs))
	}
}

// decideTrampolines gives every object whose text lies beyond a GW
// patch's auipc+jalr reach of the shared entry its own per-object
// trampoline to jump through instead.
func decideTrampolines(objs []*ObjectDescriptor, entry uintptr) error {
	for _, obj := range objs {
		if withinReach(obj.TextStart, entry) && withinReach(obj.TextEnd, entry) {
			continue
		}
		addr, err := allocTrampolinePage(obj.TextStart)
		if err != nil {
			return fmt.Errorf("allocating trampoline for %s: %v", obj.Path, err)
		}
		obj.TrampolineAddr = addr
		obj.UsesTrampoline = true
	}
	return nil
}

func withinReach(a, b uintptr) bool {
	var d int64
	if a > b {
		d = int64(a - b)
	} else {
		d = int64(b - a)
	}
	return d < gwReach-pageSize
}

// relocBufferSize bounds the relocation buffer's required size. Each
// site's relocated block is a handful of displaced instructions plus
// glue, all bounded by the fixed scan window, so a generous per-patch
// constant covers the worst case. Exhaustion is a capacity error: the
// buffer must be sized and sealed once before any patch can be
// activated, so the constant is raised at build time rather than the
// buffer grown at run time.
func relocBufferSize(numPatches int) int {
	const perPatch = 8 * 16
	return numPatches * perPatch
}

// entryAddress returns the shared assembly entry's own code address -
// the address every activated patch (directly, or through an object's
// trampoline) ultimately jumps to.
func entryAddress() uintptr {
	return reflect.ValueOf(interceptEntry).Pointer()
}

// abort writes one line to stderr and exits. Startup is all-or-nothing;
// there is no runtime recovery from any error raised before patching
// completes.
func abort(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "sysgate: fatal: "+format+"\n", args...)
	os.Exit(1)
}

// main is required by buildmode=c-shared/c-archive, the build mode a
// host process loads this library under; all the work happens in the
// constructor, before main would ever run.
func main() {}
