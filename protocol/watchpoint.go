package protocol

import "fmt"

// WatchpointKind selects which structural change a watchpoint breaks on.
type WatchpointKind int

const (
	SubtreeModified   WatchpointKind = 0
	AttributeModified WatchpointKind = 1
	NodeRemoved       WatchpointKind = 2
)

// WatchpointKinds lists every kind in display order.
var WatchpointKinds = []WatchpointKind{SubtreeModified, AttributeModified, NodeRemoved}

var kindInfo = [...]struct {
	wire, label, menu string
}{
	SubtreeModified:   {"subtree-modified", "Subtree Modified", "Break on Subtree Modifications"},
	AttributeModified: {"attribute-modified", "Attribute Modified", "Break on Attributes Modifications"},
	NodeRemoved:       {"node-removed", "Node Removed", "Break on Node Removal"},
}

// Valid reports whether k is a known kind.
func (k WatchpointKind) Valid() bool { return k >= 0 && int(k) < len(kindInfo) }

// String returns the CDP DOMDebugger breakpoint type.
func (k WatchpointKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindInfo[k].wire
}

// Label is the short human label, e.g. "Node Removed".
func (k WatchpointKind) Label() string {
	if !k.Valid() {
		return k.String()
	}
	return kindInfo[k].label
}

// MenuLabel is the action label, e.g. "Break on Node Removal".
func (k WatchpointKind) MenuLabel() string {
	if !k.Valid() {
		return k.String()
	}
	return kindInfo[k].menu
}

// ParseWatchpointKind accepts the wire form ("node-removed") or the
// decimal enumeration value.
func ParseWatchpointKind(s string) (WatchpointKind, error) {
	for i, ki := range kindInfo {
		if ki.wire == s {
			return WatchpointKind(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && WatchpointKind(n).Valid() {
		return WatchpointKind(n), nil
	}
	return 0, fmt.Errorf("protocol: unknown watchpoint kind %q", s)
}

func (k WatchpointKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("protocol: unknown watchpoint kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *WatchpointKind) UnmarshalText(b []byte) error {
	v, err := ParseWatchpointKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
