package device

// EndpointType selects which hardware paths of a logical endpoint are used.
type EndpointType uint8

// Endpoint types. A control endpoint aliases one logical number onto the
// IN, OUT and SETUP paths.
const (
	EndpointTypeIn      EndpointType = 1 << 0
	EndpointTypeOut     EndpointType = 1 << 1
	EndpointTypeSetup   EndpointType = 1 << 2
	EndpointTypeControl              = EndpointTypeIn | EndpointTypeOut | EndpointTypeSetup
)

// Direction is the direction of a transfer, relative to the host.
type Direction uint8

// Transfer directions.
const (
	DirIn  Direction = 0 // Device to host
	DirOut Direction = 1 // Host to device
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == DirOut {
		return "OUT"
	}
	return "IN"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	return d ^ 1
}

// Handler receives endpoint events from [Controller.Poll].
//
// Handlers run synchronously inside Poll and may start new transfers on
// the controller.
type Handler interface {
	HandleEvent(ep int, ev Event)
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(ep int, ev Event)

// HandleEvent calls f(ep, ev).
func (f HandlerFunc) HandleEvent(ep int, ev Event) {
	f(ep, ev)
}

// endpoint is the per-endpoint state owned by a Controller.
type endpoint struct {
	typ      EndpointType
	size     int
	handler  Handler
	transfer Transfer
}

func (e *endpoint) isControl() bool {
	return e.typ == EndpointTypeControl
}
