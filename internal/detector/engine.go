package detector

// Engine is the boundary to the inference runtime: a loaded graph plus an
// executable session.
type Engine interface {
	// Bind allocates an input tensor of the given shape and prepares a run
	// that fetches the planned outputs.
	Bind(shape TensorShape, plan FetchPlan) (Binding, error)
	// IO reports the model signature.
	IO() ModelIO
	Close() error
}

// Binding is a live input tensor plus its output fetch plan.
type Binding interface {
	// Input is the tensor's backing buffer; writes are visible to Run.
	Input() []uint8
	Run() (RawOutputs, error)
	Release() error
}
