// README: Caller identity supplied by the auth collaborator.
package types

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor is the authenticated caller of a core operation. The core never
// authenticates; it only authorizes against ID and Role.
type Actor struct {
	ID   ID
	Role Role
}

func (a Actor) Is(role Role) bool {
	return a.Role == role
}

// SystemActor is used by background jobs such as request expiry.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
