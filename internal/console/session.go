package console

import (
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/castvox/pkg/obsws"
)

// Scene identifies one compositor scene.
type Scene struct {
	Name string
	UUID string
}

// SessionState is a point-in-time copy of a [Session].
type SessionState struct {
	// Scenes lists every scene from the most recent scene list.
	Scenes []Scene

	// Current is the program scene; Previous is the one shown before the most
	// recent switch. Both are zero until the first scene list arrives.
	Current  Scene
	Previous Scene

	// PrivacySourceID is the scene item id of the privacy overlay, valid only
	// when PrivacyResolved is set.
	PrivacySourceID int
	PrivacyResolved bool

	CompositorReady bool
	RelayReady      bool
}

// SceneNames returns the names of all known scenes in list order.
func (s SessionState) SceneNames() []string {
	names := make([]string, len(s.Scenes))
	for i, sc := range s.Scenes {
		names[i] = sc.Name
	}
	return names
}

// Session holds the live state the console derives from protocol events. The
// console's event handlers are its only writers; any goroutine may read a
// [Session.Snapshot].
type Session struct {
	mu    sync.RWMutex
	state SessionState
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Scenes = slices.Clone(s.state.Scenes)
	return st
}

// applySceneList replaces the scene list and adopts the program scene it
// reports. The program scene name is compared case-insensitively.
func (s *Session) applySceneList(list obsws.SceneList) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Scenes = s.state.Scenes[:0]
	program := Scene{Name: list.CurrentProgramSceneName, UUID: list.CurrentProgramSceneUUID}
	for _, sc := range list.Scenes {
		scene := Scene{Name: sc.SceneName, UUID: sc.SceneUUID}
		s.state.Scenes = append(s.state.Scenes, scene)
		if strings.EqualFold(sc.SceneName, list.CurrentProgramSceneName) {
			program = scene
		}
	}
	s.switchLocked(program)
	if s.state.Previous == (Scene{}) {
		s.state.Previous = program
	}
}

// switchTo records a program scene change.
func (s *Session) switchTo(sc Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.UUID == "" {
		// Fill the uuid from the scene list when the event omitted it.
		for _, known := range s.state.Scenes {
			if known.Name == sc.Name {
				sc.UUID = known.UUID
				break
			}
		}
	}
	s.switchLocked(sc)
}

func (s *Session) switchLocked(sc Scene) {
	if sc.Name == "" && sc.UUID == "" {
		return
	}
	if sameScene(s.state.Current, sc) {
		s.state.Current = sc
		return
	}
	if s.state.Current != (Scene{}) {
		s.state.Previous = s.state.Current
	}
	s.state.Current = sc
}

func sameScene(a, b Scene) bool {
	if a.UUID != "" && b.UUID != "" {
		return a.UUID == b.UUID
	}
	return strings.EqualFold(a.Name, b.Name)
}

func (s *Session) setPrivacySource(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PrivacySourceID = id
	s.state.PrivacyResolved = true
}

func (s *Session) setCompositorReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompositorReady = ready
}

func (s *Session) setRelayReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RelayReady = ready
}
