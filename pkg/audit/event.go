// Package audit defines the event envelope and type taxonomy shared by
// the publisher embedded in the transactional service and the consumer
// worker. Keep it transport-agnostic so both sides agree on the wire
// schema without importing each other.
package audit

import "fmt"

// EventType is a closed set of domain-change events. Every variant maps
// to exactly one routing key and one entity label via the routes table;
// an unmapped variant is a programming error surfaced as
// ErrUnknownEventType, never a silent default.
type EventType string

const (
	// Employee events
	EventEmployeeCreated EventType = "EmployeeCreated"
	EventEmployeeUpdated EventType = "EmployeeUpdated"
	EventEmployeeDeleted EventType = "EmployeeDeleted"

	// Department events
	EventDepartmentCreated EventType = "DepartmentCreated"
	EventDepartmentUpdated EventType = "DepartmentUpdated"
	EventDepartmentDeleted EventType = "DepartmentDeleted"

	// Project events
	EventProjectCreated       EventType = "ProjectCreated"
	EventProjectUpdated       EventType = "ProjectUpdated"
	EventProjectDeleted       EventType = "ProjectDeleted"
	EventProjectMemberAdded   EventType = "ProjectMemberAdded"
	EventProjectMemberRemoved EventType = "ProjectMemberRemoved"

	// Task events
	EventTaskCreated   EventType = "TaskCreated"
	EventTaskUpdated   EventType = "TaskUpdated"
	EventTaskCompleted EventType = "TaskCompleted"
	EventTaskDeleted   EventType = "TaskDeleted"

	// Leave request events
	EventLeaveRequested EventType = "LeaveRequested"
	EventLeaveApproved  EventType = "LeaveApproved"
	EventLeaveRejected  EventType = "LeaveRejected"
	EventLeaveCancelled EventType = "LeaveCancelled"
)

// Entity labels attached to persisted audit records.
const (
	EntityEmployee     = "Employee"
	EntityDepartment   = "Department"
	EntityProject      = "Project"
	EntityTask         = "Task"
	EntityLeaveRequest = "LeaveRequest"
)

// Routing is the broker-facing projection of an EventType: the
// dot-segmented key the topic exchange routes on, plus the entity label
// the consumer files the record under.
type Routing struct {
	Key    string
	Entity string
}

// routes is the exhaustive EventType projection table. Adding a variant
// without a row here is caught by TestRoutingTotality.
var routes = map[EventType]Routing{
	EventEmployeeCreated: {Key: "employee.created", Entity: EntityEmployee},
	EventEmployeeUpdated: {Key: "employee.updated", Entity: EntityEmployee},
	EventEmployeeDeleted: {Key: "employee.deleted", Entity: EntityEmployee},

	EventDepartmentCreated: {Key: "department.created", Entity: EntityDepartment},
	EventDepartmentUpdated: {Key: "department.updated", Entity: EntityDepartment},
	EventDepartmentDeleted: {Key: "department.deleted", Entity: EntityDepartment},

	EventProjectCreated:       {Key: "project.created", Entity: EntityProject},
	EventProjectUpdated:       {Key: "project.updated", Entity: EntityProject},
	EventProjectDeleted:       {Key: "project.deleted", Entity: EntityProject},
	EventProjectMemberAdded:   {Key: "project.member.added", Entity: EntityProject},
	EventProjectMemberRemoved: {Key: "project.member.removed", Entity: EntityProject},

	EventTaskCreated:   {Key: "task.created", Entity: EntityTask},
	EventTaskUpdated:   {Key: "task.updated", Entity: EntityTask},
	EventTaskCompleted: {Key: "task.completed", Entity: EntityTask},
	EventTaskDeleted:   {Key: "task.deleted", Entity: EntityTask},

	EventLeaveRequested: {Key: "leave.requested", Entity: EntityLeaveRequest},
	EventLeaveApproved:  {Key: "leave.approved", Entity: EntityLeaveRequest},
	EventLeaveRejected:  {Key: "leave.rejected", Entity: EntityLeaveRequest},
	EventLeaveCancelled: {Key: "leave.cancelled", Entity: EntityLeaveRequest},
}

// Types returns every known EventType. Used by totality tests and by
// tooling that needs to enumerate the taxonomy.
func Types() []EventType {
	out := make([]EventType, 0, len(routes))
	for t := range routes {
		out = append(out, t)
	}
	return out
}

// Route resolves the routing key and entity label for an event type.
// Unknown variants fail fast so a malformed message is never emitted.
func (t EventType) Route() (Routing, error) {
	r, ok := routes[t]
	if !ok {
		return Routing{}, fmt.Errorf("%w: %q", ErrUnknownEventType, string(t))
	}
	return r, nil
}
