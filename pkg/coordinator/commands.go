package coordinator

// CommandKind names one of the commands the dispatcher recognizes.
type CommandKind string

const (
	CmdNewStream        CommandKind = "new_stream"
	CmdDeleteStream      CommandKind = "delete_stream"
	CmdAddReplica        CommandKind = "add_replica"
	CmdDeleteReplica     CommandKind = "delete_replica"
	CmdPolicyChanged     CommandKind = "policy_changed"
	CmdMemberStarted     CommandKind = "member_started"
	CmdMemberStopped     CommandKind = "member_stopped"
	CmdMemberDeleted     CommandKind = "member_deleted"
	CmdRetentionUpdated  CommandKind = "retention_updated"
	CmdCatalogUpdated    CommandKind = "catalog_updated"
	CmdActionFailed      CommandKind = "action_failed"
	CmdRegisterListener  CommandKind = "register_listener"
	CmdDown              CommandKind = "down"
	CmdNodeUp            CommandKind = "nodeup"
	CmdSac               CommandKind = "sac"
	CmdMachineVersion    CommandKind = "machine_version"
)

// NewStreamPayload is the payload of a new_stream command.
type NewStreamPayload struct {
	StreamId StreamId
	Leader   Node
	Nodes    []Node
	QueueRef string
	Conf     Conf
}

// DeleteStreamPayload is the payload of a delete_stream command.
type DeleteStreamPayload struct {
	StreamId StreamId
}

// AddReplicaPayload is the payload of an add_replica command.
type AddReplicaPayload struct {
	StreamId StreamId
	Node     Node
}

// DeleteReplicaPayload is the payload of a delete_replica command.
type DeleteReplicaPayload struct {
	StreamId StreamId
	Node     Node
}

// PolicyChangedPayload is the payload of a policy_changed command.
type PolicyChangedPayload struct {
	StreamId StreamId
	NewConf  Conf
}

// MemberStartedPayload is the payload of a member_started command.
type MemberStartedPayload struct {
	StreamId StreamId
	Node     Node
	Epoch    Epoch
	Index    Index
	Pid      Pid
}

// MemberStoppedPayload is the payload of a member_stopped command.
type MemberStoppedPayload struct {
	StreamId StreamId
	Node     Node
	Epoch    Epoch
	Index    Index
	Tail     Tail
}

// MemberDeletedPayload is the payload of a member_deleted command.
type MemberDeletedPayload struct {
	StreamId StreamId
	Node     Node
}

// RetentionUpdatedPayload is the payload of a retention_updated command.
type RetentionUpdatedPayload struct {
	StreamId StreamId
	Node     Node
	NewConf  Conf
}

// CatalogUpdatedPayload is the payload of a catalog_updated command.
type CatalogUpdatedPayload struct {
	StreamId StreamId
	Epoch    Epoch
}

// ActionFailedPayload is the payload of an action_failed command.
type ActionFailedPayload struct {
	StreamId StreamId
	Node     Node
	Index    Index
	Epoch    Epoch
	Action   ActionTag
}

// RegisterListenerPayload is the payload of a register_listener command.
type RegisterListenerPayload struct {
	Pid      Pid
	StreamId StreamId
	Kind     ListenerKind
	Node     Node // scoping node for ListenerLocalMember
}

// DownReason names why a pid was reported down.
type DownReason string

const (
	DownCrashed      DownReason = "crashed"
	DownNoConnection DownReason = "noconnection"
)

// DownPayload is the payload of a down command.
type DownPayload struct {
	Pid    Pid
	Reason DownReason
}

// NodeUpPayload is the payload of a nodeup command.
type NodeUpPayload struct {
	Node Node
}

// SacPayload carries a delegated command for the SAC sub-machine.
type SacPayload struct {
	Inner interface{}
}

// MachineVersionPayload is the payload of a machine_version command.
type MachineVersionPayload struct {
	From int
	To   int
}
