package cdp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/protocol"
)

// AttachOptions tune Attach.
type AttachOptions struct {
	// Depth of the initial DOM.getDocument. -1 materialises every node,
	// which Chrome needs before it reports mutations deep in the tree.
	Depth  int
	Pierce bool
	Logger *slog.Logger
}

// Attach enables the DOM domain on page, sends the document to f and then
// forwards DOM events to f until ctx is done. When Chrome invalidates the
// document, f gets DocumentUpdated followed by the new document.
func Attach(ctx context.Context, page *rod.Page, f protocol.Frontend, opts AttachOptions) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	p := page.Context(ctx)

	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return fmt.Errorf("cdp: DOM.enable: %w", err)
	}

	deliver := func(what string, err error) {
		if err != nil {
			log.Warn("cdp: frontend rejected event", "event", what, "error", err)
		}
	}
	sendDocument := func() error {
		depth := opts.Depth
		doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: opts.Pierce}.Call(p)
		if err != nil {
			return fmt.Errorf("cdp: DOM.getDocument: %w", err)
		}
		deliver("setDocument", f.SetDocument(Descriptor(doc.Root)))
		return nil
	}

	// Subscribe before fetching the document so nothing between the two
	// is lost.
	wait := p.EachEvent(
		func(e *proto.DOMSetChildNodes) {
			nodes := Descriptors(e.Nodes)
			if nodes == nil {
				nodes = []*protocol.Descriptor{}
			}
			deliver("setChildNodes", f.SetChildNodes(protocol.NodeID(e.ParentID), nodes))
		},
		func(e *proto.DOMChildNodeInserted) {
			deliver("childNodeInserted", f.ChildNodeInserted(
				protocol.NodeID(e.ParentNodeID), protocol.NodeID(e.PreviousNodeID), Descriptor(e.Node)))
		},
		func(e *proto.DOMChildNodeRemoved) {
			deliver("childNodeRemoved", f.ChildNodeRemoved(protocol.NodeID(e.ParentNodeID), protocol.NodeID(e.NodeID)))
		},
		func(e *proto.DOMChildNodeCountUpdated) {
			deliver("childNodeCountUpdated", f.ChildNodeCountUpdated(protocol.NodeID(e.NodeID), e.ChildNodeCount))
		},
		func(e *proto.DOMAttributeModified) {
			deliver("attributeModified", f.AttributeModified(protocol.NodeID(e.NodeID), e.Name, e.Value))
		},
		func(e *proto.DOMAttributeRemoved) {
			deliver("attributeRemoved", f.AttributeRemoved(protocol.NodeID(e.NodeID), e.Name))
		},
		func(e *proto.DOMCharacterDataModified) {
			deliver("characterDataModified", f.CharacterDataModified(protocol.NodeID(e.NodeID), e.CharacterData))
		},
		func(e *proto.DOMDocumentUpdated) {
			deliver("documentUpdated", f.DocumentUpdated())
			if err := sendDocument(); err != nil && ctx.Err() == nil {
				log.Error("cdp: refetch document", "error", err)
			}
		},
	)

	if err := sendDocument(); err != nil {
		return err
	}
	log.Info("cdp: attached", "depth", opts.Depth, "pierce", opts.Pierce)
	wait()
	return nil
}
