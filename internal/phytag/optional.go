package phytag

// optional is a field group that is either absent or holds a value.
type optional[T any] struct {
	val T
	ok  bool
}

func some[T any](v T) optional[T] {
	return optional[T]{val: v, ok: true}
}

func (o optional[T]) get() (T, bool) {
	return o.val, o.ok
}

func (o *optional[T]) set(v T) error {
	if o.ok {
		return ErrAlreadySet
	}
	o.val, o.ok = v, true
	return nil
}
