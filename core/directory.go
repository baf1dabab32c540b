package core

import "context"

// Directory resolves actors. It is an external collaborator owned by the
// organisation directory; the engine only reads from it.
type Directory interface {
	// Resolve returns the actor or a NotFoundError.
	Resolve(ctx context.Context, code ActorCode) (Actor, error)

	// Reportees returns the actors whose direct parent is code.
	Reportees(ctx context.Context, code ActorCode) ([]Actor, error)
}

// ResolveWithRole resolves code and checks it holds one of roles.
func ResolveWithRole(ctx context.Context, dir Directory, code ActorCode, roles ...Role) (Actor, error) {
	actor, err := dir.Resolve(ctx, code)
	if err != nil {
		return Actor{}, err
	}
	for _, r := range roles {
		if actor.Role == r {
			return actor, nil
		}
	}
	return Actor{}, Forbidden("%s (%s) may not perform this operation", code, actor.Role)
}
