package core

// Heap (C2).
//
// In-memory store of transient nodes owned by the current transaction.
// Nodes are rooted, carry child nodes, and move between frames or to the
// persistent store. Only the currently-executing frame ever touches the
// heap, so unlike components that are reached over the network this needs
// no mutex.

// HeapNode holds a root substate set plus the set of child node ids
// logically contained by the root.
type HeapNode struct {
	Substates map[SubstateOffset]Substate
	Children  map[nodeIdKey]NodeId
}

func newHeapNode() *HeapNode {
	return &HeapNode{
		Substates: make(map[SubstateOffset]Substate),
		Children:  make(map[nodeIdKey]NodeId),
	}
}

// NewHeapNode is the exported form of newHeapNode, used by native blueprint
// packages (outside package core) that need to build a node's substate set
// before handing it to Kernel.CreateNode.
func NewHeapNode() *HeapNode { return newHeapNode() }

// PutSubstate sets one substate on a freshly built node, before it is
// registered with the kernel via CreateNode.
func (n *HeapNode) PutSubstate(offset SubstateOffset, payload []byte) {
	n.Substates[offset] = Substate{Payload: payload}
}

// Substate is a fixed-schema value associated with a (NodeId, Offset) pair,
// represented here as an opaque, canonically-encoded payload plus the node
// ids it transitively references (so Heap.move_to_store and the kernel's
// argument/return scanning can walk the reference graph without decoding
// application-specific schemas).
type Substate struct {
	Payload      []byte
	ChildNodeIds []NodeId
}

// Heap is a mapping NodeId -> HeapNode.
type Heap struct {
	nodes map[nodeIdKey]*HeapNode
	ids   map[nodeIdKey]NodeId
}

func NewHeap() *Heap {
	return &Heap{
		nodes: make(map[nodeIdKey]*HeapNode),
		ids:   make(map[nodeIdKey]NodeId),
	}
}

// Create inserts a new node. Pre: id unused.
func (h *Heap) Create(id NodeId, node *HeapNode) error {
	k := id.Key()
	if _, exists := h.nodes[k]; exists {
		return NewKernelError(ErrInvalidSubstateLock, "node id already heap-resident")
	}
	if node == nil {
		node = newHeapNode()
	}
	h.nodes[k] = node
	h.ids[k] = id
	return nil
}

// Get fails with NodeNotOwned if absent -- "owned" here means "heap
// resident"; the kernel distinguishes frame ownership separately.
func (h *Heap) Get(id NodeId) (*HeapNode, error) {
	n, ok := h.nodes[id.Key()]
	if !ok {
		return nil, NewKernelError(ErrNodeNotOwned, id.String())
	}
	return n, nil
}

func (h *Heap) GetMut(id NodeId) (*HeapNode, error) { return h.Get(id) }

func (h *Heap) Contains(id NodeId) bool {
	_, ok := h.nodes[id.Key()]
	return ok
}

// AttachChildren transfers ownership of children (by id) into parent's
// child set. All ids must already be heap-resident: this is the "simple"
// form, requiring the child to already be a heap root and merely
// reparenting it, rather than recursively restructuring the child's own
// substates.
func (h *Heap) AttachChildren(children []NodeId, parent NodeId) error {
	if !h.Contains(parent) {
		return NewKernelError(ErrNodeNotOwned, parent.String())
	}
	for _, c := range children {
		if !h.Contains(c) {
			return NewKernelError(ErrNodeNotOwned, c.String())
		}
	}
	p := h.nodes[parent.Key()]
	for _, c := range children {
		p.Children[c.Key()] = c
	}
	return nil
}

// moveToStore drains node_id and all transitively reachable child nodes
// into Track as (SubstateId, Substate) pairs. After this call none of the
// transferred ids exist in the heap. Transient kinds (bucket/proof/worktop/
// auth-zone) never reach the store; callers must not invoke this on them.
func (h *Heap) moveToStore(track *Track, id NodeId) error {
	if id.Kind.transient() {
		return NewKernelError(ErrValueNotAllowed, "transient node kind cannot be persisted: "+id.Kind.String())
	}
	node, err := h.Get(id)
	if err != nil {
		return err
	}
	for off, sub := range node.Substates {
		track.putSubstate(SubstateId{Node: id, Offset: off}, sub)
	}
	children := make([]NodeId, 0, len(node.Children))
	for _, c := range node.Children {
		children = append(children, c)
	}
	delete(h.nodes, id.Key())
	delete(h.ids, id.Key())
	for _, c := range children {
		if err := h.moveToStore(track, c); err != nil {
			return err
		}
	}
	return nil
}

// Remove detaches and returns node_id without persisting it.
func (h *Heap) Remove(id NodeId) (*HeapNode, error) {
	n, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	delete(h.nodes, id.Key())
	delete(h.ids, id.Key())
	return n, nil
}
