package console

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/castvox/pkg/eventbus"
	"github.com/MrWong99/castvox/pkg/obsws"
)

// callLog records method invocations as formatted strings.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) has(call string) bool {
	return slices.Contains(l.Calls(), call)
}

type fakeCompositor struct {
	*eventbus.Bus
	callLog
	state obsws.State
	err   error
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{Bus: eventbus.New(), state: obsws.StateAuthenticated}
}

var _ Compositor = (*fakeCompositor)(nil)

func (f *fakeCompositor) State() obsws.State { return f.state }

func (f *fakeCompositor) SetCurrentProgramSceneByName(_ context.Context, name string) error {
	f.record("SetCurrentProgramSceneByName %s", name)
	return f.err
}

func (f *fakeCompositor) SetCurrentProgramSceneByUUID(_ context.Context, uuid string) error {
	f.record("SetCurrentProgramSceneByUUID %s", uuid)
	return f.err
}

func (f *fakeCompositor) SetSceneItemEnabled(_ context.Context, scene string, id int, enabled bool) error {
	f.record("SetSceneItemEnabled %s %d %t", scene, id, enabled)
	return f.err
}

func (f *fakeCompositor) GetSceneList(context.Context) error {
	f.record("GetSceneList")
	return f.err
}

func (f *fakeCompositor) GetSceneItemListByName(_ context.Context, scene string) error {
	f.record("GetSceneItemListByName %s", scene)
	return f.err
}

func (f *fakeCompositor) GetSceneItemListByUUID(_ context.Context, uuid string) error {
	f.record("GetSceneItemListByUUID %s", uuid)
	return f.err
}

func (f *fakeCompositor) GetSceneItemID(_ context.Context, scene, source string) error {
	f.record("GetSceneItemID %s/%s", scene, source)
	return f.err
}

func (f *fakeCompositor) SendStreamCaption(_ context.Context, caption string) error {
	f.record("SendStreamCaption %s", caption)
	return f.err
}

type fakeRelay struct {
	*eventbus.Bus
	callLog
	connected bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{Bus: eventbus.New()}
}

var _ Relay = (*fakeRelay)(nil)

func (f *fakeRelay) Connected() bool { return f.connected }

func (f *fakeRelay) SendChannelMessage(_ context.Context, channel, message string) {
	f.record("PRIVMSG %s :%s", channel, message)
}

func (f *fakeRelay) RequestCapability(_ context.Context, capability string) {
	f.record("CAP REQ :%s", capability)
}

func (f *fakeRelay) Join(_ context.Context, channel string) {
	f.record("JOIN %s", channel)
}
