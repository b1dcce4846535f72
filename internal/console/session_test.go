package console

import (
	"testing"

	"github.com/MrWong99/castvox/pkg/obsws"
)

func TestSession_ProgramSceneMatchedCaseInsensitively(t *testing.T) {
	t.Parallel()
	var s Session
	s.applySceneList(obsws.SceneList{
		CurrentProgramSceneName: "just chatting",
		Scenes: []obsws.Scene{
			{SceneName: "Just Chatting", SceneUUID: "uuid-chat"},
		},
	})

	st := s.Snapshot()
	if st.Current != (Scene{Name: "Just Chatting", UUID: "uuid-chat"}) {
		t.Errorf("Current = %+v", st.Current)
	}
}

func TestSession_SwitchFillsUUIDAndKeepsPrevious(t *testing.T) {
	t.Parallel()
	var s Session
	s.applySceneList(testScenes)

	s.switchTo(Scene{Name: "Starting Soon"})
	st := s.Snapshot()
	if st.Current.UUID != "uuid-start" {
		t.Errorf("Current = %+v; want uuid filled from scene list", st.Current)
	}
	if st.Previous.Name != "Just Chatting" {
		t.Errorf("Previous = %+v", st.Previous)
	}

	// Re-announcing the current scene does not overwrite Previous.
	s.switchTo(Scene{Name: "starting soon", UUID: "uuid-start"})
	if got := s.Snapshot().Previous.Name; got != "Just Chatting" {
		t.Errorf("Previous after repeat = %q", got)
	}
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	t.Parallel()
	var s Session
	s.applySceneList(testScenes)

	st := s.Snapshot()
	st.Scenes[0].Name = "mutated"
	if s.Snapshot().Scenes[0].Name != "Starting Soon" {
		t.Error("snapshot shares its scene slice with the session")
	}
}
