package workflow

// Reducer defines how a state field absorbs an update from a node.
type Reducer[T any] func(current T, update T) T

// LastValueReducer returns the most recent value.
func LastValueReducer[T any]() Reducer[T] {
	return func(_, update T) T {
		return update
	}
}

// AppendReducer appends slices together.
func AppendReducer[T any]() Reducer[[]T] {
	return func(current, update []T) []T {
		result := make([]T, 0, len(current)+len(update))
		result = append(result, current...)
		result = append(result, update...)
		return result
	}
}

// MergeMapReducer merges maps, with update values taking precedence.
func MergeMapReducer[K comparable, V any]() Reducer[map[K]V] {
	return func(current, update map[K]V) map[K]V {
		result := make(map[K]V, len(current)+len(update))
		for k, v := range current {
			result[k] = v
		}
		for k, v := range update {
			result[k] = v
		}
		return result
	}
}

// Apply merges update into current when the update is present.
// A nil update leaves current unchanged.
func Apply[T any](current T, update *T, r Reducer[T]) T {
	if update == nil {
		return current
	}
	return r(current, *update)
}
