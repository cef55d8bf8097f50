package eventtype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapKnownTypes(t *testing.T) {
	m := NewMapper()

	assert.Equal(t, DeviceEnrolled, m.Map(ToolFleetMDM, "host_enrolled"))
	assert.Equal(t, ScriptExecuted, m.Map(ToolTacticalRMM, "script_run"))
	assert.Equal(t, RemoteSessionStarted, m.Map(ToolMeshCentral, "relaylog"))
}

func TestMapUnknownDefaultsNeverFails(t *testing.T) {
	m := NewMapper()

	assert.Equal(t, Unknown, m.Map(ToolFleetMDM, "brand_new_upstream_type"))
	assert.Equal(t, Unknown, m.Map("no-such-tool", "host_enrolled"))
	assert.Equal(t, Unknown, m.Map("", ""))
}

func TestMapIsDeterministic(t *testing.T) {
	m := NewMapper()

	for i := 0; i < 10; i++ {
		assert.Equal(t, CommandExecuted, m.Map(ToolTacticalRMM, "cmd_run"))
		assert.Equal(t, Unknown, m.Map(ToolTacticalRMM, "unmapped"))
	}
}

func TestOverlayWinsOverDefaults(t *testing.T) {
	overlay := `
mappings:
  - tool: tactical-rmm
    event_type: cmd_run
    unified: SCRIPT_EXECUTED
  - tool: fleet-mdm
    event_type: new_activity
    unified: POLICY_APPLIED
`
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	m, err := NewMapperWithOverlay(path)
	require.NoError(t, err)

	assert.Equal(t, ScriptExecuted, m.Map(ToolTacticalRMM, "cmd_run"))
	assert.Equal(t, PolicyApplied, m.Map(ToolFleetMDM, "new_activity"))
	// Untouched defaults survive.
	assert.Equal(t, DeviceEnrolled, m.Map(ToolFleetMDM, "host_enrolled"))
}

func TestOverlayRejectsUndeclaredUnifiedType(t *testing.T) {
	overlay := `
mappings:
  - tool: tactical-rmm
    event_type: cmd_run
    unified: SCRIPT_EXEUCTED
`
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	// A typo must fail startup instead of minting a new event type that
	// bypasses the visibility policy.
	_, err := NewMapperWithOverlay(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRIPT_EXEUCTED")
}

func TestOverlayMissingFile(t *testing.T) {
	_, err := NewMapperWithOverlay("/nonexistent/overlay.yaml")
	assert.Error(t, err)

	m, err := NewMapperWithOverlay("")
	require.NoError(t, err)
	assert.Equal(t, NewMapper().Size(), m.Size())
}
