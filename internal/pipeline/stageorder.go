package pipeline

import "fmt"

// StageOrder is an insertion-ordered, named list of stages. Session
// variants assemble their pipeline through it and hand it to Run.
type StageOrder struct {
	names  []string
	stages map[string]Stage
}

func NewStageOrder() *StageOrder {
	return &StageOrder{stages: make(map[string]Stage)}
}

func (o *StageOrder) Append(name string, s Stage) *StageOrder {
	o.insert(len(o.names), name, s)
	return o
}

func (o *StageOrder) Prepend(name string, s Stage) *StageOrder {
	o.insert(0, name, s)
	return o
}

func (o *StageOrder) InsertBefore(anchor, name string, s Stage) *StageOrder {
	o.insert(o.indexOf(anchor), name, s)
	return o
}

func (o *StageOrder) InsertAfter(anchor, name string, s Stage) *StageOrder {
	o.insert(o.indexOf(anchor)+1, name, s)
	return o
}

func (o *StageOrder) indexOf(name string) int {
	for i, n := range o.names {
		if n == name {
			return i
		}
	}
	panic(fmt.Sprintf("pipeline: no stage named %q", name))
}

func (o *StageOrder) insert(at int, name string, s Stage) {
	if _, dup := o.stages[name]; dup {
		panic(fmt.Sprintf("pipeline: duplicate stage name %q", name))
	}
	o.names = append(o.names, "")
	copy(o.names[at+1:], o.names[at:])
	o.names[at] = name
	o.stages[name] = s
}

// Names returns the stage names in execution order.
func (o *StageOrder) Names() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// Stages returns the stages in execution order.
func (o *StageOrder) Stages() []Stage {
	out := make([]Stage, len(o.names))
	for i, n := range o.names {
		out[i] = o.stages[n]
	}
	return out
}
