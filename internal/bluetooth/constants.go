package bluetooth

import "time"

// GATT identifiers of the controller. The custom service spells "Oculus
// Threemote" in ASCII; notify carries sensor reports, write takes commands.
const (
	ControllerNameSubstring = "Gear VR Controller"

	ControllerServiceUUID = "4f63756c-7573-2054-6872-65656d6f7465"
	NotifyCharUUID        = "c8c51726-81bc-483b-a052-f7a14ea3d281"
	WriteCharUUID         = "c8c51726-81bc-483b-a052-f7a14ea3d282"

	BatteryServiceUUID   = "0000180f-0000-1000-8000-00805f9b34fb"
	BatteryLevelCharUUID = "00002a19-0000-1000-8000-00805f9b34fb"
)

const (
	// MaxConnectRetries bounds the connect attempts per Connect call.
	MaxConnectRetries = 5
	// RetryDelay separates consecutive connect attempts.
	RetryDelay = time.Second
	// KeepAliveInterval paces the keep-alive command while connected.
	KeepAliveInterval = 5 * time.Second

	// notifyBufferSize decouples the BLE callback from packet processing.
	// The controller reports at ~69 Hz; half a second of slack is plenty.
	notifyBufferSize = 32
)
