package main

import "fmt"

// resolveGateways implements the gateway-resolution pass that runs after
// every patch in obj has been classified and placed: each MID/SML
// patch is paired with the nearest GW within JALMidReach bytes of its jal
// source. p.DstJmpPatch stays the real syscall site placePatch computed
// for it, since writePatch (activator.go) writes this patch's own bytes
// there; only p.Gateway is set, and activator.go reads p.Gateway.DstJmpPatch
// directly when it needs the jump target.
func resolveGateways(obj *ObjectDescriptor) error {
	var gateways []*PatchDescriptor
	for _, p := range obj.Patches {
		if p.Class() == TypeGW {
			gateways = append(gateways, p)
		}
	}

	for _, p := range obj.Patches {
		switch p.Class() {
		case TypeMID, TypeSML:
			gw := nearestGateway(p, gateways)
			if gw == nil {
				return fmt.Errorf("no gateway within reach of %s patch at %#x", p.ClassName(), p.SyscallAddr)
			}
			p.Gateway = gw
		}
	}
	return nil
}

// nearestGateway returns the GW patch in gateways whose entry is closest
// to p's jal source and still within JALMidReach, or nil if none qualify.
func nearestGateway(p *PatchDescriptor, gateways []*PatchDescriptor) *PatchDescriptor {
	var best *PatchDescriptor
	var bestDist uintptr

	for _, gw := range gateways {
		dist := jalDistance(p.DstJmpPatch, gw.DstJmpPatch)
		if dist > JALMidReach {
			continue
		}
		if best == nil || dist < bestDist {
			best = gw
			bestDist = dist
		}
	}
	return best
}

// jalDistance returns the absolute byte distance between a jal's source
// and candidate target address.
func jalDistance(from, to uintptr) uintptr {
	if from > to {
		return from - to
	}
	return to - from
}
