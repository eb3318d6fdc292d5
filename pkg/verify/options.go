package verify

// DefaultMaxOperand bounds ParametricPop operands. Anything larger is
// rejected rather than applied.
const DefaultMaxOperand = 1<<16 - 1

// Options configures one verification pass.
type Options struct {
	// EntryDepth is the stack depth on entry to the unit.
	EntryDepth int `cbor:"1,keyasint" json:"entryDepth"`

	// ExitDepth, when set, is the depth the unit must end with.
	ExitDepth *int `cbor:"2,keyasint,omitempty" json:"exitDepth,omitempty"`

	// MaxOperand is the largest accepted ParametricPop or JumpTable operand.
	MaxOperand int64 `cbor:"3,keyasint" json:"maxOperand"`
}

// Option configures a verification pass.
type Option func(*Options)

// WithEntryDepth sets the stack depth on entry.
func WithEntryDepth(n int) Option {
	return func(o *Options) { o.EntryDepth = n }
}

// WithExitDepth requires the unit to end at depth n. Without it the final
// depth is reported but not checked.
func WithExitDepth(n int) Option {
	return func(o *Options) { o.ExitDepth = &n }
}

// WithMaxOperand overrides DefaultMaxOperand.
func WithMaxOperand(n int64) Option {
	return func(o *Options) { o.MaxOperand = n }
}

// WithOptions copies a fully formed Options value.
func WithOptions(src Options) Option {
	return func(o *Options) { *o = src }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{MaxOperand: DefaultMaxOperand}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
