package codegen

// Frame tracks one function's stack slot assignment, implementing the
// layout enumerated in §4.E ("Stack frame (top = lowest address)").
// Every slot - parameter, local, or temporary - is a fixed 8 bytes: int
// and bool are unboxed in registers and on the stack even though they
// pack smaller inside objects (§4.E).
type Frame struct {
	hasStaticLink bool
	nextLocal     int32 // next free offset below RBP, always negative
	locals        map[string]int32
	params        map[string]int32
	tempDepth     int32 // current outstanding pushed-temporary count, for alignment bookkeeping
	maxArgBytes   int32 // deepest outgoing-argument area seen, for frame-size accounting
}

const slotWidth = int32(8)

// NewFrame creates a frame for a function; hasStaticLink reserves the
// slot nested functions use to reach their defining frame (§4.E).
func NewFrame(hasStaticLink bool) *Frame {
	f := &Frame{
		hasStaticLink: hasStaticLink,
		locals:        map[string]int32{},
		params:        map[string]int32{},
	}
	f.nextLocal = -slotWidth
	if hasStaticLink {
		f.nextLocal -= slotWidth
	}
	return f
}

// StaticLinkOffset is the frame-relative offset of the saved static
// link, valid only when the frame hasStaticLink.
func (f *Frame) StaticLinkOffset() int32 { return -slotWidth }

// BindParam assigns name its incoming-parameter offset; index counts
// left to right as written in the source, matching the caller, which
// stores argument i at [RSP+8*i] before the call (§4.E: "leftmost at
// lowest address").
func (f *Frame) BindParam(name string, index int) {
	f.params[name] = 16 + slotWidth*int32(index)
}

// AllocLocal reserves a new local-variable slot for name and returns its
// frame-relative offset. Locals are allocated in declaration order, so
// the first declared sits at the highest address among locals (§4.E).
func (f *Frame) AllocLocal(name string) int32 {
	off := f.nextLocal
	f.locals[name] = off
	f.nextLocal -= slotWidth
	return off
}

// AllocTemp reserves one anonymous expression-temporary slot below the
// current locals, for spilling a stack-machine value that must survive
// across a call (§4.E "Expression temporaries").
func (f *Frame) AllocTemp() int32 {
	off := f.nextLocal
	f.nextLocal -= slotWidth
	return off
}

// Offset resolves a previously bound name to its frame-relative offset
// and reports whether it is a parameter (true) or local (false).
func (f *Frame) Offset(name string) (off int32, isParam, ok bool) {
	if off, ok := f.params[name]; ok {
		return off, true, true
	}
	if off, ok := f.locals[name]; ok {
		return off, false, true
	}
	return 0, false, false
}

// ReserveArgs records that this function, while preparing a call, pushed
// argBytes worth of outgoing-argument slots, for the caller to size the
// function's total stack usage across all of its calls.
func (f *Frame) ReserveArgs(argBytes int32) {
	if argBytes > f.maxArgBytes {
		f.maxArgBytes = argBytes
	}
}

// LocalsSize is the total bytes consumed by locals, temporaries and the
// static link slot, excluding outgoing argument space (which the
// generator allocates transiently around each call rather than
// reserving up front).
func (f *Frame) LocalsSize() int32 {
	return -f.nextLocal
}
