package device

import (
	"encoding/binary"

	"github.com/ardnew/softrescue/pkg"
)

// Descriptors holds the pre-encoded descriptors served by a [ControlContext].
type Descriptors struct {
	Device        []byte   // Device descriptor
	Configuration []byte   // Configuration descriptor including all subordinates
	Strings       [][]byte // String descriptors indexed by string index
}

type pendingFlags uint8

const (
	pendingAddress pendingFlags = 1 << iota
	pendingConfig
)

// ControlContext answers standard USB device requests on a control
// endpoint.
//
// SET_ADDRESS and SET_CONFIGURATION are acknowledged immediately but only
// take effect when the status stage completes; the owner of the endpoint
// must call [ControlContext.HandleDone] on every [EventDone].
type ControlContext struct {
	ctrl *Controller
	ep   int
	desc Descriptors

	address       uint8
	configuration uint8
	next          struct {
		address       uint8
		configuration uint8
	}
	pending pendingFlags

	// Response buffer; must stay valid until the IN transfer completes.
	responseBuf [2]byte
}

// NewControlContext creates a context serving desc on endpoint ep.
func NewControlContext(ctrl *Controller, ep int, desc Descriptors) *ControlContext {
	return &ControlContext{ctrl: ctrl, ep: ep, desc: desc}
}

// Address returns the applied device address.
func (cc *ControlContext) Address() uint8 {
	return cc.address
}

// Configuration returns the applied configuration value.
func (cc *ControlContext) Configuration() uint8 {
	return cc.configuration
}

// State returns the USB device state derived from address and configuration.
func (cc *ControlContext) State() State {
	switch {
	case cc.address == 0:
		return StateDefault
	case cc.configuration == 0:
		return StateAddress
	default:
		return StateConfigured
	}
}

// Reset returns the context to the default state.
func (cc *ControlContext) Reset() {
	cc.address = 0
	cc.configuration = 0
	cc.pending = 0
	cc.next.address = 0
	cc.next.configuration = 0
}

// HandleDone applies a pending address or configuration change.
func (cc *ControlContext) HandleDone() {
	if cc.pending&pendingAddress != 0 {
		cc.address = cc.next.address
		cc.ctrl.SetAddress(cc.address)
	}
	if cc.pending&pendingConfig != 0 {
		cc.configuration = cc.next.configuration
		pkg.LogInfo(pkg.ComponentControl, "configuration set", "config", cc.configuration)
	}
	cc.pending = 0
}

// HandleSetup processes a standard SETUP request and starts the data or
// status stage. It returns [pkg.ErrBadSetup] for requests it does not
// support; the caller is expected to stall the endpoint.
func (cc *ControlContext) HandleSetup(setup *SetupPacket) error {
	if !setup.IsStandard() {
		return pkg.ErrBadSetup
	}

	var data []byte
	var err error
	switch setup.Recipient() {
	case RequestRecipientDevice:
		data, err = cc.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		data, err = cc.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		data, err = cc.handleEndpointRequest(setup)
	default:
		err = pkg.ErrBadSetup
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentControl, "unsupported request", "setup", setup.String())
		return err
	}
	return cc.respond(setup, data)
}

// respond starts the data stage of a device-to-host request, or the
// zero-length status stage of a host-to-device request.
func (cc *ControlContext) respond(setup *SetupPacket, data []byte) error {
	if !setup.IsDeviceToHost() {
		return cc.ctrl.Transfer(cc.ep, nil, DirIn, 0)
	}
	var flags TransferFlags
	if len(data) > int(setup.Length) {
		data = data[:setup.Length]
	} else if len(data) < int(setup.Length) {
		flags |= FlagShortIn
	}
	return cc.ctrl.Transfer(cc.ep, data, DirIn, flags)
}

// handleDeviceRequest handles device-level standard requests.
func (cc *ControlContext) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		// Self-powered, no remote wakeup.
		binary.LittleEndian.PutUint16(cc.responseBuf[:], 1)
		return cc.responseBuf[:2], nil
	case RequestSetAddress:
		cc.next.address = uint8(setup.Value & 0x7F)
		cc.pending |= pendingAddress
		return nil, nil
	case RequestGetDescriptor:
		return cc.getDescriptor(setup)
	case RequestGetConfiguration:
		cc.responseBuf[0] = cc.configuration
		return cc.responseBuf[:1], nil
	case RequestSetConfiguration:
		cc.next.configuration = uint8(setup.Value)
		cc.pending |= pendingConfig
		return nil, nil
	default:
		return nil, pkg.ErrBadSetup
	}
}

// handleInterfaceRequest handles interface-level standard requests.
func (cc *ControlContext) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		// Interface status is reserved (zero)
		binary.LittleEndian.PutUint16(cc.responseBuf[:], 0)
		return cc.responseBuf[:2], nil
	case RequestSetInterface:
		return nil, nil
	case RequestGetInterface:
		cc.responseBuf[0] = 0
		return cc.responseBuf[:1], nil
	default:
		return nil, pkg.ErrBadSetup
	}
}

// handleEndpointRequest handles endpoint-level standard requests.
func (cc *ControlContext) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	ep := int(setup.EndpointAddress() & 0x0F)
	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if cc.ctrl.Stalled(ep) {
			status = 1 // Halt bit
		}
		binary.LittleEndian.PutUint16(cc.responseBuf[:], status)
		return cc.responseBuf[:2], nil
	case RequestSetFeature, RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrBadSetup
		}
		cc.ctrl.Stall(ep, setup.Request == RequestSetFeature)
		return nil, nil
	case RequestSynchFrame:
		binary.LittleEndian.PutUint16(cc.responseBuf[:], 0)
		return cc.responseBuf[:2], nil
	default:
		return nil, pkg.ErrBadSetup
	}
}

// getDescriptor handles GET_DESCRIPTOR request.
func (cc *ControlContext) getDescriptor(setup *SetupPacket) ([]byte, error) {
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		if cc.desc.Device == nil {
			return nil, pkg.ErrBadSetup
		}
		return cc.desc.Device, nil
	case DescriptorTypeConfiguration:
		if len(cc.desc.Configuration) < ConfigurationDescriptorSize {
			return nil, pkg.ErrBadSetup
		}
		total := int(binary.LittleEndian.Uint16(cc.desc.Configuration[2:4]))
		return cc.desc.Configuration[:min(total, len(cc.desc.Configuration))], nil
	case DescriptorTypeString:
		index := int(setup.DescriptorIndex())
		if index >= len(cc.desc.Strings) || len(cc.desc.Strings[index]) == 0 {
			return nil, pkg.ErrBadSetup
		}
		s := cc.desc.Strings[index]
		return s[:min(int(s[0]), len(s))], nil
	default:
		return nil, pkg.ErrBadSetup
	}
}
