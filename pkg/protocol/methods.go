package protocol

// Operation names the Transport port exposes, grouped by route group per
// spec §6.3.2. Both the (out-of-scope) HTTP+SSE adapter and any in-process
// adapter implement the same catalog.
const (
	OpSessionsList        = "sessions.list"
	OpSessionsGet         = "sessions.get"
	OpSessionsSendMessage = "sessions.sendMessage" // streaming
	OpSessionsApprove     = "sessions.approve"
	OpSessionsAnswer      = "sessions.answer"
	OpSessionsPatch       = "sessions.patch"
	OpSessionsLock        = "sessions.lock"
	OpSessionsUnlock      = "sessions.unlock"

	OpSync = "sync" // streaming

	OpPulseSchedulesList   = "pulse.schedules.list"
	OpPulseSchedulesCreate = "pulse.schedules.create"
	OpPulseSchedulesGet    = "pulse.schedules.get"
	OpPulseSchedulesPatch  = "pulse.schedules.patch"
	OpPulseSchedulesDelete = "pulse.schedules.delete"
	OpPulseSchedulesRun    = "pulse.schedules.run"
	OpPulseSchedulesApprove = "pulse.schedules.approve"
	OpPulseSchedulesReject  = "pulse.schedules.reject"
	OpPulseRunsList        = "pulse.runs.list"
	OpPulseRunsCancel      = "pulse.runs.cancel"

	OpRelayPublish          = "relay.publish"
	OpRelayEndpointsList    = "relay.endpoints.list"
	OpRelayEndpointsCreate  = "relay.endpoints.create"
	OpRelayInbox            = "relay.endpoints.inbox"
	OpRelayTracesGet         = "relay.traces.get"
	OpRelayMetricsGet        = "relay.metrics.get"
	OpRelayAdaptersList      = "relay.adapters.list"
	OpRelayAdaptersEnable    = "relay.adapters.enable"
	OpRelayAdaptersDisable   = "relay.adapters.disable"
	OpRelayAdaptersReload    = "relay.adapters.reload"
	OpRelayBindingsList      = "relay.bindings.list"
	OpRelayBindingsCreate    = "relay.bindings.create"
	OpRelayBindingsDelete    = "relay.bindings.delete"
	OpRelayStream            = "relay.stream" // streaming

	OpMeshDiscover    = "mesh.discover"
	OpMeshRegister    = "mesh.agents.register"
	OpMeshList        = "mesh.agents.list"
	OpMeshGet         = "mesh.agents.get"
	OpMeshPatch       = "mesh.agents.patch"
	OpMeshUnregister  = "mesh.agents.unregister"
	OpMeshDeny        = "mesh.deny"
	OpMeshDeniedList  = "mesh.denied.list"
	OpMeshUndeny      = "mesh.denied.delete"
	OpMeshStatus      = "mesh.status"
	OpMeshInspect     = "mesh.agents.inspect"
	OpMeshTopology    = "mesh.topology"

	OpConfigGet = "config.get"
)

// Operation carries the declared shape of a single Transport port operation:
// its name, whether it streams, and the error codes it may surface. The
// port itself (the HTTP+SSE adapter) is out of scope; this catalog exists so
// in-process callers (MCP tools, tests) share one source of truth with it.
type Operation struct {
	Name      string
	Streaming bool
	ErrorCodes []string
}

// Catalog enumerates every operation from §6.3.2 the Transport port declares.
var Catalog = []Operation{
	{Name: OpSessionsList},
	{Name: OpSessionsGet},
	{Name: OpSessionsSendMessage, Streaming: true, ErrorCodes: []string{"BOUNDARY_VIOLATION", "SESSION_LIMIT", "LOCKED"}},
	{Name: OpSessionsApprove},
	{Name: OpSessionsAnswer},
	{Name: OpSessionsPatch},
	{Name: OpSessionsLock, ErrorCodes: []string{"LOCKED"}},
	{Name: OpSessionsUnlock},
	{Name: OpSync, Streaming: true},
	{Name: OpPulseSchedulesList},
	{Name: OpPulseSchedulesCreate},
	{Name: OpPulseSchedulesGet},
	{Name: OpPulseSchedulesPatch},
	{Name: OpPulseSchedulesDelete},
	{Name: OpPulseSchedulesRun},
	{Name: OpPulseSchedulesApprove},
	{Name: OpPulseSchedulesReject},
	{Name: OpPulseRunsList},
	{Name: OpPulseRunsCancel},
	{Name: OpRelayPublish, ErrorCodes: []string{"INVALID_SUBJECT", "ACCESS_DENIED", "PUBLISH_FAILED"}},
	{Name: OpRelayEndpointsList},
	{Name: OpRelayEndpointsCreate, ErrorCodes: []string{"REGISTRATION_FAILED"}},
	{Name: OpRelayInbox, ErrorCodes: []string{"ENDPOINT_NOT_FOUND", "INBOX_READ_FAILED"}},
	{Name: OpRelayTracesGet},
	{Name: OpRelayMetricsGet},
	{Name: OpRelayAdaptersList},
	{Name: OpRelayAdaptersEnable, ErrorCodes: []string{"ENABLE_FAILED"}},
	{Name: OpRelayAdaptersDisable, ErrorCodes: []string{"DISABLE_FAILED"}},
	{Name: OpRelayAdaptersReload, ErrorCodes: []string{"RELOAD_FAILED"}},
	{Name: OpRelayBindingsList},
	{Name: OpRelayBindingsCreate, ErrorCodes: []string{"BINDING_CREATE_FAILED"}},
	{Name: OpRelayBindingsDelete},
	{Name: OpRelayStream, Streaming: true},
	{Name: OpMeshDiscover, ErrorCodes: []string{"MESH_DISABLED", "DISCOVER_FAILED"}},
	{Name: OpMeshRegister, ErrorCodes: []string{"MESH_DISABLED", "REGISTER_FAILED"}},
	{Name: OpMeshList, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshGet, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshPatch, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshUnregister, ErrorCodes: []string{"MESH_DISABLED", "UNREGISTER_FAILED"}},
	{Name: OpMeshDeny, ErrorCodes: []string{"MESH_DISABLED", "DENY_FAILED"}},
	{Name: OpMeshDeniedList, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshUndeny, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshStatus},
	{Name: OpMeshInspect, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpMeshTopology, ErrorCodes: []string{"MESH_DISABLED"}},
	{Name: OpConfigGet},
}
