package yamlpatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// Document is a parsed YAML manifest that accepts RFC 6902 JSON patches.
// Nodes are edited in place, so comments, key order and the detected
// indentation width survive a patch-and-marshal round trip.
type Document struct {
	node   *yaml.Node
	indent int
}

func Load(b []byte) (*Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	return &Document{
		node:   &node,
		indent: detectIndent(&node),
	}, nil
}

func detectIndent(node *yaml.Node) int {
	if node.Kind == yaml.ScalarNode {
		return 0
	}
	if node.Column != 1 {
		if node.Kind == yaml.SequenceNode {
			return (node.Column - 1) * 2
		}
		return node.Column - 1
	}
	for _, content := range node.Content {
		indent := detectIndent(content)
		if indent > 1 {
			return indent
		}
	}
	return 0
}

// Patch applies the JSON patch to the document. Only the nodes the patch
// touches are rewritten.
func (d *Document) Patch(patchJSON []byte) error {
	return patchNode(d.node, patchJSON)
}

func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(d.indent)
	if err := enc.Encode(d.node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// patchNode applies the patch to the plain-data projection of the node
// tree, then replays the resulting differences onto the nodes themselves
// via the cmp reporter in traversal.go.
func patchNode(y *yaml.Node, patchJSON []byte) error {
	var v1 interface{}
	if err := y.Decode(&v1); err != nil {
		return fmt.Errorf("decoding yaml: %w", err)
	}

	origJSON, err := json.Marshal(v1)
	if err != nil {
		return err
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return fmt.Errorf("decoding patch: %w", err)
	}

	modified, err := patch.Apply(origJSON)
	if err != nil {
		return fmt.Errorf("applying patch: %w", err)
	}

	var v2 interface{}
	if err := json.Unmarshal(modified, &v2); err != nil {
		return err
	}

	t := &Traversal{stack: []interface{}{}}
	t.pushState(y, nil, "$")
	cmp.Equal(v1, v2, cmp.Reporter(t))

	return nil
}
