package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrOriginMismatch  = errors.New("message origin does not match embed origin")
	ErrUnknownInstance = errors.New("no embed registered for instance")
)

type Handler func(Message)

// Dispatcher is the parent-page side of the protocol. It accepts messages only
// from the exact embed origin and routes them to the embed instance they name.
type Dispatcher struct {
	origin string

	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewDispatcher(embedOrigin string) *Dispatcher {
	return &Dispatcher{
		origin:    strings.TrimRight(embedOrigin, "/"),
		instances: make(map[string]*Instance),
	}
}

func (d *Dispatcher) Origin() string { return d.origin }

// Register returns the instance for id, creating it on first use.
func (d *Dispatcher) Register(id string) *Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	if inst, ok := d.instances[id]; ok {
		return inst
	}
	inst := &Instance{id: id, handlers: make(map[EventType][]Handler)}
	d.instances[id] = inst
	return inst
}

func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	delete(d.instances, id)
	d.mu.Unlock()
}

// Dispatch validates a raw postMessage event and delivers it.
func (d *Dispatcher) Dispatch(origin string, data []byte) error {
	if origin != d.origin {
		return fmt.Errorf("%w: %q", ErrOriginMismatch, origin)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	inst, ok := d.instances[msg.InstanceID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, msg.InstanceID)
	}
	inst.deliver(msg)
	return nil
}

// Instance is one embed on the host page.
type Instance struct {
	id string

	mu       sync.Mutex
	handlers map[EventType][]Handler
	height   int
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) On(typ EventType, h Handler) {
	i.mu.Lock()
	i.handlers[typ] = append(i.handlers[typ], h)
	i.mu.Unlock()
}

// Height is the last height reported by the frame.
func (i *Instance) Height() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.height
}

func (i *Instance) deliver(msg Message) {
	i.mu.Lock()
	if msg.Type == HeightChanged {
		// Assigned, never accumulated: duplicate messages are harmless.
		i.height, _ = msg.Height()
	}
	handlers := append([]Handler(nil), i.handlers[msg.Type]...)
	i.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}
