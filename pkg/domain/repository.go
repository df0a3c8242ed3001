package domain

// ---------------------------------------------------------------------------
// Repository pattern
// ---------------------------------------------------------------------------

// Repository defines the generic CRUD contract for aggregate persistence.
// Each bounded context provides a typed repository interface extending this.
type Repository[T any] interface {
	FindByID(id EntityID) (*T, error)
	// Save persists an aggregate (create or update).
	Save(entity *T) error
	Delete(id EntityID) error
	FindAll() ([]*T, error)
}

// ---------------------------------------------------------------------------
// Specification pattern
// ---------------------------------------------------------------------------

// Specification defines a predicate for filtering domain objects.
type Specification[T any] interface {
	IsSatisfiedBy(entity *T) bool
}

// SpecFunc adapts a plain predicate to Specification.
type SpecFunc[T any] func(entity *T) bool

func (f SpecFunc[T]) IsSatisfiedBy(entity *T) bool { return f(entity) }

// Filter returns the entities matching spec, preserving order. A nil spec
// matches everything.
func Filter[T any](entities []*T, spec Specification[T]) []*T {
	if spec == nil {
		return entities
	}
	out := make([]*T, 0, len(entities))
	for _, e := range entities {
		if spec.IsSatisfiedBy(e) {
			out = append(out, e)
		}
	}
	return out
}
