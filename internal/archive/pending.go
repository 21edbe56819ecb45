package archive

import "errors"

// ErrCommitted is returned when a Pending value is committed twice.
var ErrCommitted = errors.New("archive: value already committed")

// Pending is a value whose dependencies have been written and whose
// footprint has not.
type Pending[T, A any] struct {
	a    Archive[T, A]
	v    T
	r    Resolver
	pos  int
	done bool
}

// Prepare runs the dependency phase for v.
func Prepare[T, A any](s Serializer, a Archiver[T, A], v T) (*Pending[T, A], error) {
	r, err := a.Serialize(s, v)
	if err != nil {
		return nil, err
	}
	return &Pending[T, A]{a: a, v: v, r: r}, nil
}

// Commit writes the footprint and returns its position. The resolver is
// consumed; a second call fails with ErrCommitted.
func (p *Pending[T, A]) Commit(s Serializer) (int, error) {
	if p.done {
		return p.pos, ErrCommitted
	}
	pos, err := ResolveAligned(s, p.a, p.v, p.r)
	if err != nil {
		return 0, err
	}
	p.done = true
	p.pos = pos
	p.r = nil
	return pos, nil
}

// Committed reports whether Commit has succeeded.
func (p *Pending[T, A]) Committed() bool { return p.done }
