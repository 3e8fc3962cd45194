package collab

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Node kinds.
const (
	NodeParagraph = "paragraph"
)

// Update operations.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Node is one block of the document root.
type Node struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Update is a single change to the document root, as exchanged with peers.
type Update struct {
	Op    string `json:"op"`
	Index int    `json:"index"`
	Node  *Node  `json:"node,omitempty"`
}

// Observer is notified after every applied update. origin identifies who made
// the change so a provider can skip echoing its own remote updates.
type Observer func(u Update, origin any)

// Document is the shared document of one collaborative room: an ordered list
// of block nodes.
type Document struct {
	id string

	mu        sync.Mutex
	nodes     []Node
	observers map[int]Observer
	nextObs   int
	destroyed bool
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		id:        uuid.NewString(),
		observers: make(map[int]Observer),
	}
}

// ID identifies this document instance. A recreated room gets a new id.
func (d *Document) ID() string { return d.id }

// IsEmpty reports whether the root has no nodes.
func (d *Document) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes) == 0
}

// Len returns the number of root nodes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Snapshot returns a copy of the root nodes.
func (d *Document) Snapshot() []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.nodes)
}

// Text renders the document as plain text, one line per node.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	lines := make([]string, len(d.nodes))
	for i, n := range d.nodes {
		lines[i] = n.Text
	}
	return strings.Join(lines, "\n")
}

// InsertParagraph appends a paragraph holding text.
func (d *Document) InsertParagraph(text string, origin any) error {
	d.mu.Lock()
	u := Update{Op: OpInsert, Index: len(d.nodes), Node: &Node{Type: NodeParagraph, Text: text}}
	obs, err := d.applyLocked(u)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, u, origin)
	return nil
}

// InsertParagraphIfEmpty inserts text as the only paragraph when the root is
// empty. The check and the insert are atomic. It reports whether it inserted.
func (d *Document) InsertParagraphIfEmpty(text string, origin any) bool {
	d.mu.Lock()
	if d.destroyed || len(d.nodes) != 0 {
		d.mu.Unlock()
		return false
	}
	u := Update{Op: OpInsert, Index: 0, Node: &Node{Type: NodeParagraph, Text: text}}
	obs, err := d.applyLocked(u)
	d.mu.Unlock()
	if err != nil {
		return false
	}
	notify(obs, u, origin)
	return true
}

// ApplyUpdate applies a change, typically one received from a peer.
func (d *Document) ApplyUpdate(u Update, origin any) error {
	d.mu.Lock()
	obs, err := d.applyLocked(u)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	notify(obs, u, origin)
	return nil
}

// ApplySnapshot replaces the root with the server state received on sync.
// Observers are not notified: the change did not originate locally.
func (d *Document) ApplySnapshot(nodes []Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDocumentDestroyed
	}
	d.nodes = slices.Clone(nodes)
	return nil
}

// OnUpdate registers an observer and returns its remover.
func (d *Document) OnUpdate(fn Observer) (remove func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// Destroy drops all observers; later changes fail with ErrDocumentDestroyed.
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	clear(d.observers)
}

// Destroyed reports whether Destroy was called.
func (d *Document) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Document) applyLocked(u Update) ([]Observer, error) {
	if d.destroyed {
		return nil, ErrDocumentDestroyed
	}
	switch u.Op {
	case OpInsert:
		if u.Node == nil || u.Index < 0 || u.Index > len(d.nodes) {
			return nil, ErrInvalidUpdate
		}
		d.nodes = slices.Insert(d.nodes, u.Index, *u.Node)
	case OpDelete:
		if u.Index < 0 || u.Index >= len(d.nodes) {
			return nil, ErrInvalidUpdate
		}
		d.nodes = slices.Delete(d.nodes, u.Index, u.Index+1)
	default:
		return nil, ErrInvalidUpdate
	}

	obs := make([]Observer, 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	return obs, nil
}

func notify(obs []Observer, u Update, origin any) {
	for _, fn := range obs {
		fn(u, origin)
	}
}
