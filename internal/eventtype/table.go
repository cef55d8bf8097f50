package eventtype

// Tool identifiers used as table key prefixes. The deserializers emit the
// same constants, so the key space is closed at compile time.
const (
	ToolFleetMDM    = "fleet-mdm"
	ToolTacticalRMM = "tactical-rmm"
	ToolMeshCentral = "meshcentral"
)

// defaultMappings covers the documented vocabulary of each integrated tool.
// Keys use the normalized (lowercased, underscore-separated) source event
// type produced by the deserializers.
var defaultMappings = map[string]Type{
	// Fleet MDM activity types.
	ToolFleetMDM + ":host_enrolled":            DeviceEnrolled,
	ToolFleetMDM + ":host_checked_in":          DeviceCheckedIn,
	ToolFleetMDM + ":host_offline":             DeviceOffline,
	ToolFleetMDM + ":applied_spec":             PolicyApplied,
	ToolFleetMDM + ":policy_failure":           PolicyViolated,
	ToolFleetMDM + ":ran_script":               ScriptExecuted,
	ToolFleetMDM + ":live_query":               QueryExecuted,
	ToolFleetMDM + ":installed_software":       SoftwareInstalled,
	ToolFleetMDM + ":mdm_enrolled":             DeviceEnrolled,
	ToolFleetMDM + ":edited_macos_min_version": PolicyApplied,

	// Tactical RMM agent history types.
	ToolTacticalRMM + ":agent_install": DeviceEnrolled,
	ToolTacticalRMM + ":check_in":      DeviceCheckedIn,
	ToolTacticalRMM + ":cmd_run":       CommandExecuted,
	ToolTacticalRMM + ":script_run":    ScriptExecuted,
	ToolTacticalRMM + ":task_run":      ScriptExecuted,
	ToolTacticalRMM + ":alert":         AlertRaised,
	ToolTacticalRMM + ":patch_install": SoftwareInstalled,
	ToolTacticalRMM + ":policy_sync":   PolicyApplied,
	ToolTacticalRMM + ":agent_offline": DeviceOffline,

	// MeshCentral event actions.
	ToolMeshCentral + ":relaylog":        RemoteSessionStarted,
	ToolMeshCentral + ":remote_session":  RemoteSessionStarted,
	ToolMeshCentral + ":session_start":   RemoteSessionStarted,
	ToolMeshCentral + ":session_end":     RemoteSessionEnded,
	ToolMeshCentral + ":end_session":     RemoteSessionEnded,
	ToolMeshCentral + ":file_transfer":   FileTransferred,
	ToolMeshCentral + ":download":        FileTransferred,
	ToolMeshCentral + ":upload":          FileTransferred,
	ToolMeshCentral + ":node_connect":    DeviceCheckedIn,
	ToolMeshCentral + ":node_disconnect": DeviceOffline,
	ToolMeshCentral + ":added_node":      DeviceEnrolled,
	ToolMeshCentral + ":run_commands":    CommandExecuted,
}
