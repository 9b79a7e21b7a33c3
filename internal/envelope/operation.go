package envelope

import "strings"

// Operation names a kind of directory change carried by an envelope.
type Operation string

const (
	CreateGroup           Operation = "createGroup"
	UpdateGroup           Operation = "updateGroup"
	RenameGroup           Operation = "renameGroup"
	DeleteGroup           Operation = "deleteGroup"
	DeleteGroupIsMemberOf Operation = "deleteGroupIsMemberOf"
	RenameGroupIsMemberOf Operation = "renameGroupIsMemberOf"
	AddMember             Operation = "addMember"
	RemoveMember          Operation = "removeMember"
	AddIsMemberOf         Operation = "addIsMemberOf"
	RemoveIsMemberOf      Operation = "removeIsMemberOf"
	AddPrivilege          Operation = "addPrivilege"
	RemovePrivilege       Operation = "removePrivilege"
	FullSync              Operation = "fullSync"
	FullSyncIsMemberOf    Operation = "fullSyncIsMemberOf"
	FullSyncPrivilege     Operation = "fullSyncPrivilege"
	RemoveAllMembers      Operation = "removeAllMembers"
	DeleteStem            Operation = "deleteStem"
	RenameStem            Operation = "renameStem"
)

// Operations lists the full operation vocabulary.
var Operations = []Operation{
	CreateGroup, UpdateGroup, RenameGroup, DeleteGroup,
	DeleteGroupIsMemberOf, RenameGroupIsMemberOf,
	AddMember, RemoveMember, AddIsMemberOf, RemoveIsMemberOf,
	AddPrivilege, RemovePrivilege,
	FullSync, FullSyncIsMemberOf, FullSyncPrivilege,
	RemoveAllMembers, DeleteStem, RenameStem,
}

var operationsByFold = func() map[string]Operation {
	m := make(map[string]Operation, len(Operations))
	for _, op := range Operations {
		m[strings.ToLower(string(op))] = op
	}
	return m
}()

// LookupOperation resolves name case-insensitively against the vocabulary.
func LookupOperation(name string) (Operation, bool) {
	op, ok := operationsByFold[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}

// IsValidOperation reports whether name belongs to the vocabulary, ignoring case.
func IsValidOperation(name string) bool {
	_, ok := LookupOperation(name)
	return ok
}
