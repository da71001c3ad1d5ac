package main

import "testing"

func gwPatch(retAddr uintptr) *PatchDescriptor {
	return &PatchDescriptor{SyscallNum: TypeGW, ReturnAddress: retAddr}
}

func midPatch(retAddr uintptr) *PatchDescriptor {
	return &PatchDescriptor{SyscallNum: TypeMID, ReturnAddress: retAddr}
}

func smlPatch(retAddr uintptr) *PatchDescriptor {
	return &PatchDescriptor{SyscallNum: TypeSML, ReturnAddress: retAddr}
}

func TestDetectCurPatchMatchesBySlot(t *testing.T) {
	gw := gwPatch(0x1000)
	mid := midPatch(0x2000)
	sml := smlPatch(0x3000)
	allPatches = []*PatchDescriptor{gw, mid, sml}
	defer func() { allPatches = nil }()

	var candidates [3]uintptr
	candidates[slotGW] = 0x1000
	class, reloc, ok := detectCurPatch(candidates)
	if !ok || class != TypeGW || reloc != gw.RelocationAddr {
		t.Fatalf("expected GW match, got class=%d ok=%v", class, ok)
	}
}

func TestDetectCurPatchRejectsWrongSlot(t *testing.T) {
	gw := gwPatch(0x1000)
	allPatches = []*PatchDescriptor{gw}
	defer func() { allPatches = nil }()

	// 0x1000 is a GW's ReturnAddress, but placed in the MID slot: a
	// GW class only ever matches slotGW, so this
	// must not match even though the value is numerically identical to
	// a real ReturnAddress.
	var candidates [3]uintptr
	candidates[slotMID] = 0x1000
	if _, _, ok := detectCurPatch(candidates); ok {
		t.Fatalf("a GW ReturnAddress placed in the MID slot must not match")
	}
}

func TestDetectCurPatchNoMatch(t *testing.T) {
	allPatches = []*PatchDescriptor{gwPatch(0x1000)}
	defer func() { allPatches = nil }()

	if _, _, ok := detectCurPatch([3]uintptr{0x9, 0x9, 0x9}); ok {
		t.Fatalf("expected no match against unrelated candidates")
	}
}

func TestGetCurPatchFirstMatchWins(t *testing.T) {
	// Two patches should never legitimately share a ReturnAddress
	// (verifyPatchLayout refuses the layout), but the lookup itself
	// must still resolve deterministically to the first one in
	// registry order.
	first := gwPatch(0x4000)
	second := gwPatch(0x4000)
	allPatches = []*PatchDescriptor{first, second}
	defer func() { allPatches = nil }()

	got := getCurPatch(0x4000)
	if got != first {
		t.Fatalf("getCurPatch should return the first match in registry order")
	}
}

func TestClassSlotRoundTrip(t *testing.T) {
	cases := map[int]int{TypeGW: slotGW, TypeMID: slotMID, TypeSML: slotSML}
	for class, want := range cases {
		if got := classSlot(class); got != want {
			t.Errorf("classSlot(%d) = %d, want %d", class, got, want)
		}
	}
}

func TestClone3StackReadsOffset(t *testing.T) {
	buf := make([]byte, clone3StackOffset+8)
	want := uint64(0xdeadbeef)
	for i := 0; i < 8; i++ {
		buf[clone3StackOffset+i] = byte(want >> (8 * i))
	}
	ptr := uintptr(ptrOf(&buf[0]))
	if got := clone3Stack(ptr); got != uintptr(want) {
		t.Fatalf("clone3Stack = %#x, want %#x", got, want)
	}
	if got := clone3Stack(0); got != 0 {
		t.Fatalf("clone3Stack(nil) = %#x, want 0", got)
	}
}
