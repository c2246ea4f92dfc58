package merkle

import (
	"bytes"
	"sort"
)

// Tree is an offline builder for whitelist roots and proofs.
// Layout matches merkletreejs with {sort: true}: leaves sorted, pairs sorted,
// an odd trailing node promoted unchanged to the next layer.
type Tree struct {
	layers [][]Hash
}

// NewTree builds a tree over pre-hashed leaves
func NewTree(leaves []Hash) *Tree {
	sorted := make([]Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	layers := [][]Hash{sorted}
	for current := sorted; len(current) > 1; {
		next := make([]Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				next = append(next, current[i])
				continue
			}
			next = append(next, HashPair(current[i], current[i+1]))
		}
		layers = append(layers, next)
		current = next
	}
	return &Tree{layers: layers}
}

// NewTreeFromMembers hashes raw member identifiers into leaves first
func NewTreeFromMembers(members [][]byte) *Tree {
	leaves := make([]Hash, len(members))
	for i, m := range members {
		leaves[i] = Leaf(m)
	}
	return NewTree(leaves)
}

// Root returns the commitment; the zero hash for an empty tree
func (t *Tree) Root() Hash {
	top := t.layers[len(t.layers)-1]
	if len(top) == 0 {
		return Hash{}
	}
	return top[0]
}

// Len returns the number of leaves
func (t *Tree) Len() int { return len(t.layers[0]) }

// Proof returns the sibling path for leaf, or false when leaf is not in the tree
func (t *Tree) Proof(leaf Hash) ([]Hash, bool) {
	index := -1
	for i, l := range t.layers[0] {
		if l == leaf {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, false
	}

	proof := make([]Hash, 0, len(t.layers))
	for _, layer := range t.layers[:len(t.layers)-1] {
		pair := index + 1
		if index%2 == 1 {
			pair = index - 1
		}
		if pair < len(layer) {
			proof = append(proof, layer[pair])
		}
		index /= 2
	}
	return proof, true
}

// MemberProof is Proof for a raw member identifier
func (t *Tree) MemberProof(member []byte) ([]Hash, bool) {
	return t.Proof(Leaf(member))
}
