package main

import "golang.org/x/sys/unix"

// Syscall numbers this dispatcher special-cases, per the generic Linux
// syscall table RISC-V64 shares with ARM64 (asm-generic/unistd.h):
// rt_sigreturn=139, clone=220, clone3=435.
const (
	sysRtSigreturn = 139
	sysClone       = 220
	sysClone3      = 435
)

// cloneVfork is CLONE_VFORK from sched.h, one of the two conditions
// that route a clone call through the new-stack clone path even when no
// child stack pointer was given explicitly.
const cloneVfork = 0x00004000

// clone3StackOffset is the byte offset of struct clone_args's "stack"
// member (linux/sched.h): flags, pidfd, child_tid, parent_tid,
// exit_signal each occupy one u64 before it.
const clone3StackOffset = 5 * 8

// allPatches is the process-wide registry of every activated patch
// across every object, built once by registerPatches after activation
// (intercept.go). detectCurPatch and getCurPatch both search it by
// ReturnAddress, which the planner guarantees is unique per patch.
var allPatches []*PatchDescriptor

func registerPatches(objs []*ObjectDescriptor) {
	allPatches = allPatches[:0]
	for _, obj := range objs {
		for _, p := range obj.Patches {
			p.Owner = obj
			allPatches = append(allPatches, p)
		}
	}
}

// Slot indices the assembly entry's stack-layout contract assigns to
// each patch class's own return-address candidate.
const (
	slotMID = 0
	slotSML = 1
	slotGW  = 2
)

// detectCurPatch identifies the patch that fired from the three
// return-address candidates the assembly entry captured. Exactly one
// candidate is the return address of the patch that actually jumped to
// the entry; the other two slots hold whatever the entry's stack frame
// happened to contain for classes that did not fire. matchSlot rejects
// a candidate that matches a patch's ReturnAddress in the wrong slot,
// so a stale value in an unused slot can never steal the match from
// the patch that really fired.
func detectCurPatch(candidates [3]uintptr) (classTag int, relocAddr uintptr, ok bool) {
	for _, p := range allPatches {
		if matchSlot(p, candidates) {
			return p.Class(), p.RelocationAddr, true
		}
	}
	return 0, 0, false
}

func matchSlot(p *PatchDescriptor, candidates [3]uintptr) bool {
	switch p.Class() {
	case TypeGW:
		return candidates[slotGW] == p.ReturnAddress
	case TypeMID:
		return candidates[slotMID] == p.ReturnAddress
	case TypeSML:
		return candidates[slotSML] == p.ReturnAddress
	}
	return false
}

// getCurPatch resolves a single already-known return address back to
// its patch, used by the logging path once detectCurPatch has done the
// slot-keyed identification. First match wins; ReturnAddress uniqueness
// makes any later match impossible anyway.
func getCurPatch(retAddr uintptr) *PatchDescriptor {
	for _, p := range allPatches {
		if p.ReturnAddress == retAddr {
			return p
		}
	}
	return nil
}

// interceptRoutine is the Go half of the dispatcher: invoked by the
// assembly entry once detectCurPatch has identified the firing patch,
// with the six syscall arguments, the syscall number, and that patch's
// own return address. It returns the (a0, a1) pair the entry acts on:
// either the real result paired with 0, or one of the Unh* sentinels
// requesting a path this routine cannot itself complete.
func interceptRoutine(nr uintptr, a0, a1, a2, a3, a4, a5, retAddr uintptr) (uintptr, uintptr) {
	if handled, result := handleMagicSyscall(nr, a0, a1, a2, a3, a4, a5); handled {
		return result, 0
	}

	patch := getCurPatch(retAddr)
	logEvent(buildLogEvent(outcomeUnknown, patch, nr, a0, a1, a2, a3, a4, a5, 0))

	var result uintptr
	forward := true
	if hook := currentHook(); hook != nil {
		forward = hook(nr, a0, a1, a2, a3, a4, a5, &result) != 0
	}

	unhSyscall, unhGeneric, unhClone := int(UnhSyscall), int(UnhGeneric), int(UnhClone)
	switch nr {
	case sysRtSigreturn:
		// rt_sigreturn never returns to its caller; only the entry's
		// direct transfer path can issue it with the right stack.
		return uintptr(unhSyscall), uintptr(unhGeneric)
	case sysClone:
		if a1 != 0 || a0&cloneVfork != 0 {
			return uintptr(unhSyscall), uintptr(unhClone)
		}
	case sysClone3:
		if clone3Stack(a0) != 0 {
			return uintptr(unhSyscall), uintptr(unhClone)
		}
	}

	if forward {
		result = noIntercept6(nr, a0, a1, a2, a3, a4, a5)
		if nr == sysClone || nr == sysClone3 {
			interceptRoutinePostClone(result)
		}
	}

	logEvent(buildLogEvent(outcomeKnown, patch, nr, a0, a1, a2, a3, a4, a5, result))
	return result, 0
}

// interceptRoutinePostClone dispatches after a clone/clone3 that ran
// the ordinary (same-stack, fork-like) path, to whichever side of the
// fork this call returned into. By clone(2)'s own convention the child
// sees a zero return value and the parent sees the child's tid.
func interceptRoutinePostClone(result uintptr) {
	if result == 0 {
		callHookCloneChild()
		return
	}
	callHookCloneParent(result)
}

// clone3Stack reads the "stack" member of struct clone_args at argPtr,
// the pointer clone3(2)'s first argument carries. Safe to dereference
// directly: it is the calling thread's own memory, already mapped and
// readable, in this same process.
func clone3Stack(argPtr uintptr) uintptr {
	if argPtr == 0 {
		return 0
	}
	b := addrToSlice(argPtr+clone3StackOffset, 8)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return uintptr(v)
}

// noIntercept6 performs the real syscall directly via a raw kernel
// trap, bypassing every patched site (including this library's own).
// Both the dispatcher and any installed hook use this path to reach the
// kernel without recursing back into patched code.
func noIntercept6(nr, a0, a1, a2, a3, a4, a5 uintptr) uintptr {
	r1, _, errno := unix.RawSyscall6(nr, a0, a1, a2, a3, a4, a5)
	if errno != 0 {
		return uintptr(-errno)
	}
	return r1
}
