// Package broadcast defines how overlay events leave the service.
package broadcast

// Emitter sends one named event with a JSON-encodable payload to every overlay client.
type Emitter interface {
	Emit(event string, payload interface{})
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload interface{})

func (f EmitterFunc) Emit(event string, payload interface{}) {
	f(event, payload)
}

// Nop discards every event.
var Nop Emitter = EmitterFunc(func(string, interface{}) {})
