// Package protocol defines the id-addressed contract between a document
// backend (a browser page, a remote daemon) and the mirror that replicates
// its tree. These are the public types: anything that feeds the mirror or
// serves its outbound requests imports this package.
package protocol

import "fmt"

// NodeID is a backend-assigned node identifier. It is only meaningful
// within the document generation that issued it. Zero means absent.
type NodeID int64

// NodeType mirrors the standard DOM node-type enumeration.
type NodeType int

const (
	ElementNode               NodeType = 1
	AttributeNode             NodeType = 2
	TextNode                  NodeType = 3
	CDATASectionNode          NodeType = 4
	EntityReferenceNode       NodeType = 5
	EntityNode                NodeType = 6
	ProcessingInstructionNode NodeType = 7
	CommentNode               NodeType = 8
	DocumentNode              NodeType = 9
	DocumentTypeNode          NodeType = 10
	DocumentFragmentNode      NodeType = 11
	NotationNode              NodeType = 12
)

var nodeTypeNames = map[NodeType]string{
	ElementNode:               "element",
	AttributeNode:             "attribute",
	TextNode:                  "text",
	CDATASectionNode:          "cdata",
	EntityReferenceNode:       "entity-reference",
	EntityNode:                "entity",
	ProcessingInstructionNode: "processing-instruction",
	CommentNode:               "comment",
	DocumentNode:              "document",
	DocumentTypeNode:          "doctype",
	DocumentFragmentNode:      "fragment",
	NotationNode:              "notation",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("nodetype(%d)", int(t))
}
