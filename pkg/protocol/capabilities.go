package protocol

// Capability names an action class a node can perform. The set is closed:
// adding one requires a coordinated change to gateway and companions, and
// unknown strings received on the wire fail frame validation.
type Capability string

const (
	CapFileManagement     Capability = "file_management"
	CapApplicationControl Capability = "application_control"
	CapSystemInfo         Capability = "system_info"
	CapCodeExecution      Capability = "code_execution"
	CapCamera             Capability = "camera"
	CapMicrophone         Capability = "microphone"
	CapAudioOutput        Capability = "audio_output"
	CapNotifications      Capability = "notifications"
	CapHomeAutomation     Capability = "home_automation"
	CapClipboard          Capability = "clipboard"
	CapScreenCapture      Capability = "screen_capture"
)

var knownCapabilities = map[Capability]bool{
	CapFileManagement:     true,
	CapApplicationControl: true,
	CapSystemInfo:         true,
	CapCodeExecution:      true,
	CapCamera:             true,
	CapMicrophone:         true,
	CapAudioOutput:        true,
	CapNotifications:      true,
	CapHomeAutomation:     true,
	CapClipboard:          true,
	CapScreenCapture:      true,
}

// ValidCapability reports whether s is a member of the closed capability set.
func ValidCapability(s Capability) bool { return knownCapabilities[s] }

// DefaultPrimaryCapabilities is the capability set the local primary node
// registers with.
func DefaultPrimaryCapabilities() []Capability {
	return []Capability{
		CapFileManagement,
		CapSystemInfo,
		CapCodeExecution,
		CapNotifications,
	}
}
