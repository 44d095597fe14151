package rotator

// promise is a one-shot outcome. It is confined to the loop.
type promise[T any] struct {
	fn   func(T, error)
	done bool
}

func newPromise[T any](fn func(T, error)) *promise[T] {
	return &promise[T]{fn: fn}
}

func (p *promise[T]) pending() bool { return !p.done }

// resolve hands the outcome to the callback. A second resolve is a bug in the
// caller and panics.
func (p *promise[T]) resolve(v T, err error) {
	if p.done {
		panic("rotator: promise resolved twice")
	}
	p.done = true
	if p.fn != nil {
		p.fn(v, err)
	}
}
