package domagent

import "github.com/hazyhaar/dommirror/protocol"

// Document event names.
const (
	EventAttributeModified     = "AttributeModified"
	EventCharacterDataModified = "CharacterDataModified"
	EventNodeInserted          = "NodeInserted"
	EventNodeRemoved           = "NodeRemoved"
)

// Event is what document listeners receive. RelatedNode is the parent for
// NodeInserted and NodeRemoved. Name is the attribute for AttributeModified
// when a single attribute changed, empty after a wholesale update.
type Event struct {
	Type        string
	Target      *Node
	RelatedNode *Node
	Name        string
}

// ListenerID identifies a registered listener for RemoveEventListener.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn func(Event)
}

// Document is the root of one mirrored generation.
type Document struct {
	*Node
	agent      *Agent
	generation uint64

	documentElement *Node
	body            *Node

	listeners map[string][]listener
	nextID    ListenerID
}

func newDocument(agent *Agent, generation uint64, d *protocol.Descriptor) *Document {
	doc := &Document{
		agent:      agent,
		generation: generation,
		listeners:  make(map[string][]listener),
	}
	doc.Node = &Node{owner: doc}
	doc.Node.init(d)
	return doc
}

// DocumentElement is the first HTML element seen in this generation.
func (d *Document) DocumentElement() *Node { return d.documentElement }

// Body is the first BODY element seen in this generation.
func (d *Document) Body() *Node { return d.body }

// Generation increases with every document replacement.
func (d *Document) Generation() uint64 { return d.generation }

// AddEventListener registers fn for events named name. Listeners run
// synchronously on the agent loop, in registration order.
func (d *Document) AddEventListener(name string, fn func(Event)) ListenerID {
	d.nextID++
	d.listeners[name] = append(d.listeners[name], listener{id: d.nextID, fn: fn})
	return d.nextID
}

// RemoveEventListener unregisters a listener. Unknown ids are ignored.
func (d *Document) RemoveEventListener(name string, id ListenerID) {
	ls := d.listeners[name]
	for i, l := range ls {
		if l.id == id {
			d.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// fireEvent dispatches on a copy of the listener list, so listeners may
// add or remove listeners while being called.
func (d *Document) fireEvent(ev Event) {
	ls := d.listeners[ev.Type]
	if len(ls) == 0 {
		return
	}
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)
	for _, l := range snapshot {
		l.fn(ev)
	}
}
