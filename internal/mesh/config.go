package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode is a mesh access-layer opcode.
type Opcode uint32

// Foundation configuration opcodes.
const (
	OpAppKeyAdd              Opcode = 0x00
	OpAppKeyStatus           Opcode = 0x8003
	OpModelPubStatus         Opcode = 0x8019
	OpModelPubVirtualAddrSet Opcode = 0x801a
	OpModelAppBind           Opcode = 0x803d
	OpModelAppStatus         Opcode = 0x803e
	OpNodeReset              Opcode = 0x8049
	OpNodeResetStatus        Opcode = 0x804a
)

// ErrShortMessage is returned when a message is shorter than its opcode requires.
var ErrShortMessage = errors.New("message too short")

// appendOpcode writes a one or two octet SIG opcode.
func appendOpcode(b []byte, op Opcode) []byte {
	if op <= 0x7e {
		return append(b, byte(op))
	}
	return append(b, byte(op>>8), byte(op))
}

// parseOpcode reads a SIG opcode from the start of data.
func parseOpcode(data []byte) (Opcode, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrShortMessage
	}
	switch data[0] >> 6 {
	case 0, 1:
		if data[0] == 0x7f {
			return 0, nil, fmt.Errorf("reserved opcode 0x7f")
		}
		return Opcode(data[0]), data[1:], nil
	case 2:
		if len(data) < 2 {
			return 0, nil, ErrShortMessage
		}
		return Opcode(data[0])<<8 | Opcode(data[1]), data[2:], nil
	default:
		if len(data) < 3 {
			return 0, nil, ErrShortMessage
		}
		return Opcode(data[0])<<16 | Opcode(data[1])<<8 | Opcode(data[2]), data[3:], nil
	}
}

// EncodeModelAppBind builds Config Model App Bind for a SIG model.
func EncodeModelAppBind(element Address, appIndex uint16, model ModelID) []byte {
	b := appendOpcode(make([]byte, 0, 8), OpModelAppBind)
	b = binary.LittleEndian.AppendUint16(b, uint16(element))
	b = binary.LittleEndian.AppendUint16(b, appIndex&0x0fff)
	return binary.LittleEndian.AppendUint16(b, uint16(model))
}

// EncodeModelPubVirtualSet builds Config Model Publication Virtual Address Set
// for a SIG model.
func EncodeModelPubVirtualSet(element Address, pub Publication) []byte {
	b := appendOpcode(make([]byte, 0, 27), OpModelPubVirtualAddrSet)
	b = binary.LittleEndian.AppendUint16(b, uint16(element))
	b = append(b, pub.Label[:]...)
	index := pub.AppIndex & 0x0fff
	if pub.Credential {
		index |= 1 << 12
	}
	b = binary.LittleEndian.AppendUint16(b, index)
	b = append(b, pub.TTL, pub.Period.Byte(), pub.Retransmit.Byte())
	return binary.LittleEndian.AppendUint16(b, uint16(pub.Model))
}

// EncodeNodeReset builds Config Node Reset.
func EncodeNodeReset() []byte {
	return appendOpcode(nil, OpNodeReset)
}

// ConfigStatus is a decoded configuration status message.
type ConfigStatus struct {
	Opcode   Opcode
	Status   uint8
	Element  Address
	Model    ModelID
	NetIndex uint16
	AppIndex uint16
}

// OK reports whether the node accepted the request.
func (s *ConfigStatus) OK() bool {
	return s.Status == 0
}

func (s *ConfigStatus) String() string {
	switch s.Opcode {
	case OpAppKeyStatus:
		return fmt.Sprintf("AppKeyStatus(status=%d net=%d app=%d)", s.Status, s.NetIndex, s.AppIndex)
	case OpModelAppStatus:
		return fmt.Sprintf("ModelAppStatus(status=%d element=%s app=%d model=%s)", s.Status, s.Element, s.AppIndex, s.Model)
	case OpModelPubStatus:
		return fmt.Sprintf("ModelPubStatus(status=%d element=%s model=%s)", s.Status, s.Element, s.Model)
	case OpNodeResetStatus:
		return "NodeResetStatus"
	default:
		return fmt.Sprintf("Opcode(0x%04x)", uint32(s.Opcode))
	}
}

// DecodeConfigStatus parses the configuration status messages the gateway
// expects in reply to the bind sequence. ok is false for other opcodes.
func DecodeConfigStatus(data []byte) (status *ConfigStatus, ok bool, err error) {
	op, params, err := parseOpcode(data)
	if err != nil {
		return nil, false, err
	}

	status = &ConfigStatus{Opcode: op}
	switch op {
	case OpAppKeyStatus:
		// Status, then net and app key indexes packed into three octets.
		if len(params) < 4 {
			return nil, true, fmt.Errorf("%w: app key status", ErrShortMessage)
		}
		status.Status = params[0]
		packed := uint32(params[1]) | uint32(params[2])<<8 | uint32(params[3])<<16
		status.NetIndex = uint16(packed & 0x0fff)
		status.AppIndex = uint16(packed >> 12 & 0x0fff)

	case OpModelAppStatus:
		if len(params) < 7 {
			return nil, true, fmt.Errorf("%w: model app status", ErrShortMessage)
		}
		status.Status = params[0]
		status.Element = Address(binary.LittleEndian.Uint16(params[1:]))
		status.AppIndex = binary.LittleEndian.Uint16(params[3:]) & 0x0fff
		status.Model = ModelID(binary.LittleEndian.Uint16(params[5:]))

	case OpModelPubStatus:
		if len(params) < 12 {
			return nil, true, fmt.Errorf("%w: model publication status", ErrShortMessage)
		}
		status.Status = params[0]
		status.Element = Address(binary.LittleEndian.Uint16(params[1:]))
		status.AppIndex = binary.LittleEndian.Uint16(params[5:]) & 0x0fff
		status.Model = ModelID(binary.LittleEndian.Uint16(params[10:]))

	case OpNodeResetStatus:

	default:
		return nil, false, nil
	}
	return status, true, nil
}
