package domagent

// Attribute is a single name/value pair on an element.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// attrs keeps attributes in delivery order with a name index. Both views
// are only ever changed together, through these methods.
type attrs struct {
	list  []Attribute
	index map[string]int
}

// reset replaces the whole set from a flat name, value, name, value list.
// A repeated name keeps its first position and its last value.
func (a *attrs) reset(flat []string) {
	a.list = make([]Attribute, 0, len(flat)/2)
	a.index = make(map[string]int, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		a.set(flat[i], flat[i+1])
	}
}

func (a *attrs) get(name string) (string, bool) {
	i, ok := a.index[name]
	if !ok {
		return "", false
	}
	return a.list[i].Value, true
}

// set inserts name at the end, or overwrites its value in place.
func (a *attrs) set(name, value string) {
	if a.index == nil {
		a.index = make(map[string]int)
	}
	if i, ok := a.index[name]; ok {
		a.list[i].Value = value
		return
	}
	a.index[name] = len(a.list)
	a.list = append(a.list, Attribute{Name: name, Value: value})
}

func (a *attrs) remove(name string) bool {
	i, ok := a.index[name]
	if !ok {
		return false
	}
	a.list = append(a.list[:i], a.list[i+1:]...)
	delete(a.index, name)
	for j := i; j < len(a.list); j++ {
		a.index[a.list[j].Name] = j
	}
	return true
}

func (a *attrs) len() int { return len(a.list) }

func (a *attrs) items() []Attribute {
	out := make([]Attribute, len(a.list))
	copy(out, a.list)
	return out
}

// consistent reports whether the ordered list and the index agree.
func (a *attrs) consistent() bool {
	if len(a.list) != len(a.index) {
		return false
	}
	for i, at := range a.list {
		if j, ok := a.index[at.Name]; !ok || j != i {
			return false
		}
	}
	return true
}
