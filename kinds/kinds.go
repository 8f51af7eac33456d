package kinds

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids packed above the own id of t.
func Bases(t uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

func Kind(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})

	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind is, or derives from, any of bases.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

// Name returns a short label for the most specific known kind, for logs and spans.
func Name(kind uint64) string {
	if name, ok := names[kind]; ok {
		return name
	}
	return "unknown"
}

var (
	Null    = Kind(0)
	Element = Kind(1)

	// Events, by origin. Only Raised events are processed ahead of the queue.
	Event    = Kind(2, Element)
	External = Kind(3, Event)
	Raised   = Kind(4, Event)
	Init     = Kind(5, Raised)
	Timer    = Kind(6, External)
	Activity = Kind(7, External)
	Link     = Kind(8, External)

	Transition = Kind(9, Element)
	Internal   = Kind(10, Transition)
	Targeted   = Kind(11, Transition)
	Self       = Kind(12, Targeted)

	Definition = Kind(13, Element)
	State      = Kind(14, Element)
)

var names = map[uint64]string{
	Null:       "null",
	Element:    "element",
	Event:      "event",
	External:   "external",
	Raised:     "raised",
	Init:       "init",
	Timer:      "timer",
	Activity:   "activity",
	Link:       "link",
	Transition: "transition",
	Internal:   "internal",
	Targeted:   "external",
	Self:       "self",
	Definition: "definition",
	State:      "state",
}
