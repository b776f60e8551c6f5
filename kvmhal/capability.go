package kvmhal

// Capability is a KVM_CHECK_EXTENSION argument.
//
//go:generate stringer -type=Capability
type Capability int

const (
	CapIRQChip           Capability = 0
	CapUserMemory        Capability = 3
	CapSetTSSAddr        Capability = 4
	CapExtCPUID          Capability = 7
	CapMPState           Capability = 14
	CapIOMMU             Capability = 18
	CapXCRS              Capability = 56
	CapCheckExtensionVM  Capability = 105
	CapIRQRouting        Capability = 25
	CapXsave             Capability = 68
	CapKVMClockCtrl      Capability = 76
	CapNRMemSlots        Capability = 10
	CapImmediateExit     Capability = 136
	CapGetMSRFeatures    Capability = 153
	CapExceptionPayload  Capability = 164
	CapX86UserSpaceMSR   Capability = 188
	CapSGX2              Capability = 196
	CapSetIdentityMapAddr Capability = 37
)

func (c Capability) String() string {
	switch c {
	case CapIRQChip:
		return "CapIRQChip"
	case CapUserMemory:
		return "CapUserMemory"
	case CapSetTSSAddr:
		return "CapSetTSSAddr"
	case CapExtCPUID:
		return "CapExtCPUID"
	case CapMPState:
		return "CapMPState"
	case CapIOMMU:
		return "CapIOMMU"
	case CapXCRS:
		return "CapXCRS"
	case CapCheckExtensionVM:
		return "CapCheckExtensionVM"
	case CapIRQRouting:
		return "CapIRQRouting"
	case CapXsave:
		return "CapXsave"
	case CapKVMClockCtrl:
		return "CapKVMClockCtrl"
	case CapNRMemSlots:
		return "CapNRMemSlots"
	case CapImmediateExit:
		return "CapImmediateExit"
	case CapGetMSRFeatures:
		return "CapGetMSRFeatures"
	case CapExceptionPayload:
		return "CapExceptionPayload"
	case CapX86UserSpaceMSR:
		return "CapX86UserSpaceMSR"
	case CapSGX2:
		return "CapSGX2"
	case CapSetIdentityMapAddr:
		return "CapSetIdentityMapAddr"
	default:
		return "Capability(unknown)"
	}
}
