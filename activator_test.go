package main

import "testing"

func addrOf(b []byte) uintptr {
	return uintptr(ptrOf(&b[0]))
}

func TestWritePatchSMLTargetsGatewayDirectly(t *testing.T) {
	site := make([]byte, TypeSMLSize)
	gw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: addrOf(make([]byte, TypeGWSize))}

	p := &PatchDescriptor{
		SyscallNum:     TypeSML,
		DstJmpPatch:    addrOf(site),
		PatchSizeBytes: TypeSMLSize,
		ReturnRegister: regRA,
		Gateway:        gw,
	}

	if err := writePatch(p, &ObjectDescriptor{}, 0); err != nil {
		t.Fatalf("writePatch: %v", err)
	}

	want := &asmBuf{}
	want.jal(regA7, jalOffset(p.DstJmpPatch, gw.DstJmpPatch))
	if string(site) != string(want.bytes()) {
		t.Fatalf("SML patch bytes = %x, want %x (jal straight into the gateway's own entry)", site, want.bytes())
	}
}

func TestWritePatchMIDSkipsGatewayPrologue(t *testing.T) {
	site := make([]byte, TypeMIDSize)
	gw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: addrOf(make([]byte, TypeGWSize))}

	p := &PatchDescriptor{
		SyscallNum:     TypeMID,
		DstJmpPatch:    addrOf(site),
		PatchSizeBytes: TypeMIDSize,
		ReturnRegister: regRA,
		Gateway:        gw,
	}

	if err := writePatch(p, &ObjectDescriptor{}, 0); err != nil {
		t.Fatalf("writePatch: %v", err)
	}

	want := &asmBuf{}
	want.addi(regSP, regSP, -48)
	want.sd(regSP, regRA, 8)
	want.jal(regRA, jalOffset(p.DstJmpPatch+uintptr(want.len()), gw.DstJmpPatch+ModifySPInsSize))
	want.ld(regRA, regSP, 8)
	want.addi(regSP, regSP, 48)
	if string(site) != string(want.bytes()) {
		t.Fatalf("MID patch bytes = %x, want %x (jal landing past the gateway's own addi sp,sp,-48)", site, want.bytes())
	}
}

// TestResolveGatewaysLeavesSiteAddressUntouched guards against
// resolveGateways repointing a MID/SML patch's DstJmpPatch at its
// gateway: writePatch writes this patch's own bytes at DstJmpPatch, so
// that field must stay the real syscall site or the site itself is
// never patched and the gateway's bytes are clobbered instead.
func TestResolveGatewaysLeavesSiteAddressUntouched(t *testing.T) {
	site := make([]byte, TypeSMLSize)
	gwBuf := make([]byte, TypeGWSize)
	siteAddr := addrOf(site)

	gw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: addrOf(gwBuf)}
	sml := &PatchDescriptor{
		SyscallNum:     TypeSML,
		DstJmpPatch:    siteAddr,
		ReturnRegister: regRA,
		PatchSizeBytes: TypeSMLSize,
	}

	obj := &ObjectDescriptor{Patches: []*PatchDescriptor{gw, sml}}
	if err := resolveGateways(obj); err != nil {
		t.Fatalf("resolveGateways: %v", err)
	}
	if sml.DstJmpPatch != siteAddr {
		t.Fatalf("resolveGateways must not move dst_jmp_patch off the syscall site")
	}

	if err := writePatch(sml, obj, 0); err != nil {
		t.Fatalf("writePatch: %v", err)
	}
	for _, b := range gwBuf {
		if b != 0 {
			t.Fatalf("a sibling patch's write must never touch the gateway's own bytes, got %x", gwBuf)
		}
	}
}
