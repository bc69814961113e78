package protocol

import "fmt"

// Command is a controller control opcode. Commands are written to the
// device's write characteristic as fixed 2-byte {opcode, 0x00} pairs.
type Command byte

const (
	// CmdOff turns the controller off.
	CmdOff Command = 0x00
	// CmdSensor enables the high-rate sensor reporting mode.
	CmdSensor Command = 0x01
	// CmdFirmwareUpdate switches the controller to firmware-update mode.
	CmdFirmwareUpdate Command = 0x02
	// CmdCalibrate triggers the controller's internal calibration.
	CmdCalibrate Command = 0x03
	// CmdKeepAlive keeps the controller awake.
	CmdKeepAlive Command = 0x04
	// CmdUnknownSetting is sent by the stock firmware; purpose unknown.
	CmdUnknownSetting Command = 0x05
	// CmdLpmEnable enables low-power mode.
	CmdLpmEnable Command = 0x06
	// CmdLpmDisable disables low-power mode.
	CmdLpmDisable Command = 0x07
	// CmdVrMode enables the VR reporting mode.
	CmdVrMode Command = 0x08
)

// Bytes returns the wire encoding of the command.
func (c Command) Bytes() []byte {
	return []byte{byte(c), 0x00}
}

func (c Command) String() string {
	switch c {
	case CmdOff:
		return "off"
	case CmdSensor:
		return "sensor"
	case CmdFirmwareUpdate:
		return "firmware-update"
	case CmdCalibrate:
		return "calibrate"
	case CmdKeepAlive:
		return "keep-alive"
	case CmdUnknownSetting:
		return "unknown-setting"
	case CmdLpmEnable:
		return "lpm-enable"
	case CmdLpmDisable:
		return "lpm-disable"
	case CmdVrMode:
		return "vr-mode"
	default:
		return fmt.Sprintf("command(0x%02x)", byte(c))
	}
}
