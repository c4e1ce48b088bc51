// Package index maintains an in-memory nearest-neighbor index over all
// enrolled templates. It backs the identify diagnostic ("who does this
// capture look like"); the authenticate path never uses it, since login
// compares against exactly one claimed identity.
package index

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// maxNeighbors is the HNSW M parameter. Enrollment counts are tiny by
// ANN standards, so the default-ish value is plenty.
const maxNeighbors = 16

// Match is one identify candidate.
type Match struct {
	Username string
	Distance float64
	Quality  float64
}

// Index wraps an HNSW graph over enrolled templates.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int64]
	byID   map[int64]store.Info
	vecs   map[int64][]float32
	nextID int64
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byID: make(map[int64]store.Info),
		vecs: make(map[int64][]float32),
	}
}

// Build replaces the index contents with the given templates.
func (ix *Index) Build(templates []store.Template) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byID = make(map[int64]store.Info, len(templates))
	ix.vecs = make(map[int64][]float32, len(templates))
	ix.nextID = 0

	if len(templates) == 0 {
		ix.graph = nil
		return nil
	}

	g := hnsw.NewGraph[int64]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors) // standard HNSW formula
	g.Distance = hnsw.CosineDistance

	for i := range templates {
		tpl := &templates[i]
		if len(tpl.Vector) == 0 {
			continue
		}
		id := ix.nextID
		ix.nextID++
		g.Add(hnsw.MakeNode(id, tpl.Vector))
		ix.byID[id] = tpl.Info()
		ix.vecs[id] = tpl.Vector
	}

	ix.graph = g
	return nil
}

// Len returns the number of indexed templates.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Nearest returns the k enrolled users closest to the query vector,
// nearest first, with exact cosine distances recomputed per candidate.
func (ix *Index) Nearest(query []float32, k int) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if k < 1 {
		k = 1
	}

	neighbors := ix.graph.Search(query, k)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		info, ok := ix.byID[n.Key]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Username: info.Username,
			Distance: verify.CosineDistance(query, ix.vecs[n.Key]),
			Quality:  info.Quality,
		})
	}
	return matches, nil
}
