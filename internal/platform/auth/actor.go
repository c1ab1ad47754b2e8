package auth

import "context"

// Roles recognised by the scheduler.
const (
	RoleAdmin           = "admin"
	RoleAnesthesiaAdmin = "anesthesia_admin"
	RoleNurse           = "nurse"
	RoleStaff           = "staff"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID         string
	Roles      []string
	Department string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// ActorFromContext assembles the actor placed on ctx by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	return Actor{
		ID:         UserIDFromContext(ctx),
		Roles:      RolesFromContext(ctx),
		Department: DepartmentFromContext(ctx),
	}
}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.ID)
	ctx = context.WithValue(ctx, UserRolesKey, a.Roles)
	ctx = context.WithValue(ctx, UserDepartmentKey, a.Department)
	return ctx
}
