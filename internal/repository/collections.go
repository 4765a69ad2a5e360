package repository

// Collection names are shared between the repositories and the aggregation
// $lookup stages that join across them.
const (
	CollGroups       = "groups"
	CollMembers      = "group_members"
	CollInvites      = "group_invites"
	CollApplications = "group_applications"
)
