package feed

import "strings"

// mirror is a local copy of the subscribed subtree, updated from
// streaming put/patch events
type mirror struct {
	root interface{}
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// put replaces the value at path; a nil value deletes it
func (m *mirror) put(path string, value interface{}) {
	parts := splitPath(path)
	if len(parts) == 0 {
		m.root = value
		return
	}

	if value == nil {
		m.delete(parts)
		return
	}

	node, ok := m.root.(map[string]interface{})
	if !ok {
		node = make(map[string]interface{})
		m.root = node
	}
	for _, key := range parts[:len(parts)-1] {
		child, ok := node[key].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[key] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// patch merges children of value into the node at path
func (m *mirror) patch(path string, value interface{}) {
	children, ok := value.(map[string]interface{})
	if !ok {
		return
	}
	base := strings.TrimSuffix(path, "/")
	for key, child := range children {
		m.put(base+"/"+key, child)
	}
}

func (m *mirror) delete(parts []string) {
	node, ok := m.root.(map[string]interface{})
	if !ok {
		return
	}
	var chain []map[string]interface{}
	for _, key := range parts[:len(parts)-1] {
		chain = append(chain, node)
		child, ok := node[key].(map[string]interface{})
		if !ok {
			return
		}
		node = child
	}
	delete(node, parts[len(parts)-1])

	// Empty parents disappear, as they do in the store
	for i := len(chain) - 1; i >= 0 && len(node) == 0; i-- {
		delete(chain[i], parts[i])
		node = chain[i]
	}
	if root, ok := m.root.(map[string]interface{}); ok && len(root) == 0 {
		m.root = nil
	}
}
