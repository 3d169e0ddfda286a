package domagent

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/protocol"
)

var newSnapshotID = idgen.Prefixed("snap_", idgen.UUIDv7())

// Snapshot is the mirror serialised as HTML at one point in time.
// Children that were never fetched are rendered as nothing.
type Snapshot struct {
	ID          string `json:"id"`
	DocumentURL string `json:"document_url"`
	Generation  uint64 `json:"generation"`
	Nodes       int    `json:"nodes"`
	HTML        string `json:"html"`
	HTMLHash    string `json:"html_hash"` // SHA-256 hex
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
}

// Snapshot renders the current document. Loop only.
func (a *Agent) Snapshot() (*Snapshot, error) {
	if a.doc == nil {
		return nil, ErrNoDocument
	}
	root := toHTML(a.doc.Node)
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("domagent: render snapshot: %w", err)
	}
	return &Snapshot{
		ID:          newSnapshotID(),
		DocumentURL: a.doc.documentURL,
		Generation:  a.generation,
		Nodes:       len(a.table),
		HTML:        buf.String(),
		HTMLHash:    HashHTML(buf.Bytes()),
		Timestamp:   time.Now().UnixMilli(),
	}, nil
}

// HashHTML returns the SHA-256 hex digest of rendered HTML.
func HashHTML(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func toHTML(n *Node) *html.Node {
	var h *html.Node
	switch n.typ {
	case protocol.DocumentNode, protocol.DocumentFragmentNode:
		h = &html.Node{Type: html.DocumentNode}
	case protocol.ElementNode:
		h = &html.Node{Type: html.ElementNode, Data: elementName(n)}
		for _, at := range n.attrs.list {
			h.Attr = append(h.Attr, html.Attribute{Key: at.Name, Val: at.Value})
		}
	case protocol.TextNode, protocol.CDATASectionNode:
		return &html.Node{Type: html.TextNode, Data: n.nodeValue}
	case protocol.CommentNode:
		return &html.Node{Type: html.CommentNode, Data: n.nodeValue}
	case protocol.DocumentTypeNode:
		h = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(n.nodeName)}
		if n.publicID != "" {
			h.Attr = append(h.Attr, html.Attribute{Key: "public", Val: n.publicID})
		}
		if n.systemID != "" {
			h.Attr = append(h.Attr, html.Attribute{Key: "system", Val: n.systemID})
		}
		return h
	default:
		return nil
	}
	for _, c := range n.children {
		if hc := toHTML(c); hc != nil {
			h.AppendChild(hc)
		}
	}
	return h
}

func elementName(n *Node) string {
	if n.localName != "" {
		return n.localName
	}
	return strings.ToLower(n.nodeName)
}
