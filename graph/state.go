package graph

import "fmt"

// State is the keyed data that flows between nodes. A node never mutates
// the canonical copy in place: every NodeResult.Update is folded through
// the active Schema by Apply to produce the next State.
type State map[string]any

// Clone returns a shallow copy of s. Nodes receive a clone so that holding
// onto a State value across a call does not alias engine-owned memory.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Sentinel is a reference-identity-only marker. Sentinels are compared by
// pointer, never by value, so no legitimate node output can ever be
// mistaken for one.
type Sentinel struct{ name string }

func (s *Sentinel) String() string { return s.name }

var (
	// MarkForReset tells a channel to discard its current value for this
	// key and restart from the channel's default.
	MarkForReset = &Sentinel{name: "MARK_FOR_RESET"}
	// MarkForRemoval tells the update algebra to drop the key entirely.
	MarkForRemoval = &Sentinel{name: "MARK_FOR_REMOVAL"}
)

// Channel defines the per-key update policy used to combine a key's
// current value with an incoming partial value. A nil return means the
// key is absent from the resulting state.
type Channel interface {
	Update(old, delta any) (any, error)
}

// Schema maps state keys to the channel governing them. A key with no
// entry falls back to plain last-write-wins overwrite semantics.
type Schema map[string]Channel

// Apply folds the partial update p into s according to schema, returning
// a new State. s is never mutated.
func Apply(schema Schema, s State, p State) (State, error) {
	out := s.Clone()
	for k, delta := range p {
		ch, scheduled := schema[k]
		var effective any
		if scheduled {
			old := out[k]
			merged, err := ch.Update(old, delta)
			if err != nil {
				return nil, fmt.Errorf("channel update for key %q: %w", k, err)
			}
			effective = merged
		} else {
			if delta == MarkForRemoval || delta == MarkForReset {
				effective = nil
			} else {
				effective = delta
			}
		}
		if effective == nil {
			delete(out, k)
		} else {
			out[k] = effective
		}
	}
	return out, nil
}

// Reducer combines an existing value with an incoming one for a Base
// channel. A nil Reducer means last-write-wins: the incoming value
// replaces the existing one outright.
type Reducer func(old, delta any) (any, error)

// BaseChannel is the scalar channel: overwrite by default, or merge via
// Reduce when one is supplied (e.g. numeric accumulation, set union).
type BaseChannel struct {
	// Default, when set, supplies the value used after MarkForReset or
	// when the key has never been written.
	Default func() any
	// Reduce combines old and delta when both are present. Nil means
	// last-write-wins.
	Reduce Reducer
}

func (c *BaseChannel) Update(old, delta any) (any, error) {
	if delta == MarkForRemoval {
		return nil, nil
	}
	if delta == nil || delta == MarkForReset {
		if c.Default != nil {
			return c.Default(), nil
		}
		return nil, nil
	}
	if c.Reduce == nil || old == nil {
		return delta, nil
	}
	return c.Reduce(old, delta)
}

// DuplicatePolicy controls whether an Appender channel silently drops
// values that already appear in the sequence.
type DuplicatePolicy int

const (
	AllowDuplicates DuplicatePolicy = iota
	DisallowDuplicates
)

// RemoveIdentifier is a delta value for an Appender channel that removes
// the first element for which Match returns true, rather than appending.
type RemoveIdentifier struct {
	Match func(elem any, index int) bool
}

// ReplaceAllWith is a delta value for an Appender channel that discards
// the current sequence and installs Items wholesale.
type ReplaceAllWith struct {
	Items []any
}

// AppenderChannel maintains an ordered sequence (e.g. a message history).
// A plain value or a []any is appended; RemoveIdentifier and
// ReplaceAllWith are recognized as structural operations rather than
// appended verbatim.
type AppenderChannel struct {
	// Default supplies the starting sequence; nil means start empty.
	Default func() []any
	// Duplicates controls whether repeated elements (compared by their
	// HashOf key; see HashOf for the default) are dropped on append.
	Duplicates DuplicatePolicy
	// HashOf computes a comparable key used for duplicate detection.
	// Defaults to formatting the element with fmt.Sprintf("%#v", ...),
	// which is sufficient for the common case of comparable scalars and
	// structs but can collide for values whose %#v representation is not
	// injective.
	HashOf func(any) any
}

func (c *AppenderChannel) Update(old, delta any) (any, error) {
	if delta == MarkForRemoval {
		return nil, nil
	}
	if delta == nil || delta == MarkForReset {
		if c.Default != nil {
			return append([]any{}, c.Default()...), nil
		}
		return []any{}, nil
	}

	current, _ := old.([]any)

	switch v := delta.(type) {
	case ReplaceAllWith:
		return append([]any{}, v.Items...), nil
	case RemoveIdentifier:
		out := make([]any, 0, len(current))
		removed := false
		for i, elem := range current {
			if !removed && v.Match != nil && v.Match(elem, i) {
				removed = true
				continue
			}
			out = append(out, elem)
		}
		return out, nil
	case []any:
		return c.appendAll(current, v), nil
	default:
		return c.appendAll(current, []any{v}), nil
	}
}

func (c *AppenderChannel) appendAll(current, incoming []any) []any {
	out := append([]any{}, current...)
	for _, item := range incoming {
		if c.Duplicates == DisallowDuplicates && c.contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (c *AppenderChannel) contains(list []any, item any) bool {
	target := c.hash(item)
	for _, e := range list {
		if c.hash(e) == target {
			return true
		}
	}
	return false
}

func (c *AppenderChannel) hash(v any) any {
	if c.HashOf != nil {
		return c.HashOf(v)
	}
	return fmt.Sprintf("%#v", v)
}
