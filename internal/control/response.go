package control

// Response carries a handler's reply. A plain message is wrapped into
// {"message": ...} on the wire; a structured value is serialized as-is;
// None suppresses the reply entirely.
type Response struct {
	value any
	none  bool
}

// Message builds a plain-string response.
func Message(format string) Response {
	return Response{value: format}
}

// Structured builds a response serialized as arbitrary JSON.
func Structured(v any) Response {
	return Response{value: v}
}

// None builds a response that must not be written to the connection.
// Used by handlers that close the connection themselves.
func None() Response {
	return Response{none: true}
}

// IsNone reports whether the response suppresses the reply.
func (r Response) IsNone() bool { return r.none }
