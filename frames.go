package scenebag

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MaxFrameDepth bounds the walk from a frame to the world frame.
const MaxFrameDepth = 32

// FrameRegistry is the parent/child frame forest rooted at the world frame. Frames can be
// re-parented but never made cyclic.
type FrameRegistry struct {
	mu      sync.RWMutex
	world   string
	parents map[string]string
}

// NewFrameRegistry returns a registry that only knows the world frame.
func NewFrameRegistry(world string) *FrameRegistry {
	return &FrameRegistry{
		world:   world,
		parents: make(map[string]string),
	}
}

// World returns the root frame id.
func (registry *FrameRegistry) World() string {
	return registry.world
}

// Register sets the parent of frameID. Registering the same pair again is a no-op.
func (registry *FrameRegistry) Register(frameID, parentID string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if frameID == registry.world {
		return errors.Wrapf(ErrCyclicFrameGraph, "%s is the root and cannot have a parent", frameID)
	}
	if frameID == parentID {
		return errors.Wrapf(ErrCyclicFrameGraph, "%s cannot be its own parent", frameID)
	}
	if cur, ok := registry.parents[frameID]; ok && cur == parentID {
		return nil
	}

	// the graph is acyclic, so walking up from the new parent ends at a root
	for cur := parentID; ; {
		if cur == frameID {
			return errors.Wrapf(ErrCyclicFrameGraph, "%s -> %s", frameID, parentID)
		}
		next, ok := registry.parents[cur]
		if !ok {
			break
		}
		cur = next
	}

	registry.parents[frameID] = parentID
	return nil
}

// ResolveRootPath returns the frames from frameID up to and including the world frame.
func (registry *FrameRegistry) ResolveRootPath(frameID string) ([]string, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	path := []string{frameID}
	for cur := frameID; cur != registry.world; {
		if len(path) > MaxFrameDepth {
			return nil, errors.Wrapf(ErrUnresolvedFrame, "%s is more than %d hops from %s", frameID, MaxFrameDepth, registry.world)
		}
		parent, ok := registry.parents[cur]
		if !ok {
			return nil, errors.Wrapf(ErrUnresolvedFrame, "%s has no parent (path %v)", cur, path)
		}
		cur = parent
		path = append(path, cur)
	}
	return path, nil
}

// Parent returns the parent of frameID.
func (registry *FrameRegistry) Parent(frameID string) (string, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	parent, ok := registry.parents[frameID]
	return parent, ok
}

// Has reports whether frameID is the world frame or has been registered.
func (registry *FrameRegistry) Has(frameID string) bool {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	_, ok := registry.parents[frameID]
	return ok || frameID == registry.world
}

// Frames returns every known frame id, world included, sorted.
func (registry *FrameRegistry) Frames() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	frames := make([]string, 0, len(registry.parents)+1)
	frames = append(frames, registry.world)
	for frame := range registry.parents {
		frames = append(frames, frame)
	}
	sort.Strings(frames)
	return frames
}
