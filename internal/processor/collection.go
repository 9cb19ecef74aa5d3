package processor

import (
	"github.com/c29m/webhttp/internal/faults"
)

// ArgumentCollection is an ordered set of uniquely named arguments.
type ArgumentCollection struct {
	direction Direction
	owner     *Base
	args      []*Argument
	byName    map[string]*Argument
	frozen    bool
}

// NewArgumentCollection creates a collection not owned by any processor.
// Pipelines use these for their external inputs and outputs.
func NewArgumentCollection(direction Direction, args ...*Argument) (*ArgumentCollection, error) {
	c := newArgumentCollection(direction, nil)
	for _, arg := range args {
		if err := c.Add(arg); err != nil {
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

func newArgumentCollection(direction Direction, owner *Base) *ArgumentCollection {
	return &ArgumentCollection{
		direction: direction,
		owner:     owner,
		byName:    make(map[string]*Argument),
	}
}

// Add appends arg. It fails when the collection is frozen, arg is owned by
// any collection, or the name is already taken.
func (c *ArgumentCollection) Add(arg *Argument) error {
	if arg == nil {
		return faults.ArgumentNull("argument")
	}
	if c.frozen {
		return faults.Configuration(CodeCollectionFrozen,
			"cannot add argument %q: collection is frozen", arg.name)
	}
	if arg.owner != nil {
		return faults.Configuration(CodeArgumentOwned,
			"argument %q already belongs to another collection", arg.name)
	}
	if _, exists := c.byName[arg.name]; exists {
		return faults.Configuration(CodeDuplicateArgument,
			"duplicate %s argument name %q", c.direction, arg.name)
	}

	arg.owner = c
	arg.index = len(c.args)
	c.args = append(c.args, arg)
	c.byName[arg.name] = arg
	return nil
}

// Find looks up an argument by name.
func (c *ArgumentCollection) Find(name string) (*Argument, bool) {
	arg, ok := c.byName[name]
	return arg, ok
}

func (c *ArgumentCollection) Len() int             { return len(c.args) }
func (c *ArgumentCollection) At(i int) *Argument   { return c.args[i] }
func (c *ArgumentCollection) Direction() Direction { return c.direction }
func (c *ArgumentCollection) Frozen() bool         { return c.frozen }

// All returns the arguments in declaration order.
func (c *ArgumentCollection) All() []*Argument {
	return append([]*Argument(nil), c.args...)
}

// Names returns the argument names in declaration order.
func (c *ArgumentCollection) Names() []string {
	names := make([]string, len(c.args))
	for i, arg := range c.args {
		names[i] = arg.name
	}
	return names
}

// Freeze makes the collection immutable.
func (c *ArgumentCollection) Freeze() {
	c.frozen = true
}

// Release detaches every argument and empties the collection. Constructors
// call it to undo a partial claim; it is a no-op on a frozen collection.
func (c *ArgumentCollection) Release() {
	if c.frozen {
		return
	}
	for _, arg := range c.args {
		arg.owner = nil
		arg.index = 0
	}
	c.args = nil
	c.byName = make(map[string]*Argument)
}

// Collection is the ordered set of processors of one pipeline.
// Membership is exclusive: a processor joins at most one Collection.
type Collection struct {
	items []Processor
}

// NewCollection adds every processor in order.
func NewCollection(processors ...Processor) (*Collection, error) {
	c := &Collection{}
	for _, p := range processors {
		if err := c.Add(p); err != nil {
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

// Add appends p and claims it for this collection.
func (c *Collection) Add(p Processor) error {
	if p == nil {
		return faults.ArgumentNull("processor")
	}
	b := p.base()
	if b.collection != nil {
		return faults.Configuration(CodeProcessorOwned,
			"processor %q already belongs to a processor collection", b.name)
	}
	b.collection = c
	b.position = len(c.items)
	c.items = append(c.items, p)
	return nil
}

// Release detaches every processor so each can join another collection.
func (c *Collection) Release() {
	for _, p := range c.items {
		b := p.base()
		b.collection = nil
		b.position = 0
	}
	c.items = nil
}

// IndexOf returns p's position, or -1 when p is not a member.
func (c *Collection) IndexOf(p Processor) int {
	if p == nil {
		return -1
	}
	b := p.base()
	if b.collection != c {
		return -1
	}
	return b.position
}

func (c *Collection) Len() int           { return len(c.items) }
func (c *Collection) At(i int) Processor { return c.items[i] }

// OwnerIndex returns the position of the processor owning arg, or -1 when
// arg does not belong to a processor of this collection.
func (c *Collection) OwnerIndex(arg *Argument) int {
	if arg == nil || arg.owner == nil || arg.owner.owner == nil {
		return -1
	}
	b := arg.owner.owner
	if b.collection != c {
		return -1
	}
	return b.position
}

// All returns the processors in declared order.
func (c *Collection) All() []Processor {
	return append([]Processor(nil), c.items...)
}
