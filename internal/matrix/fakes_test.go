// ABOUTME: In-memory Matrix API used by bridge and messenger tests
// ABOUTME: Records sent events and serves canned room state

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type sentEvent struct {
	Room    id.RoomID
	Content *event.MessageEventContent
}

type typingCall struct {
	Room   id.RoomID
	Typing bool
}

type fakeAPI struct {
	mu sync.Mutex

	sent        []sentEvent
	typing      []typingCall
	created     []*mautrix.ReqCreateRoom
	joined      []id.RoomID
	accountData map[string][]byte
	state       map[string]interface{} // room|type|key
	sendErr     error
	accountErr  error
	nextRoom    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		accountData: make(map[string][]byte),
		state:       make(map[string]interface{}),
	}
}

func stateKey(room id.RoomID, t event.Type, key string) string {
	return fmt.Sprintf("%s|%s|%s", room, t.Type, key)
}

func (f *fakeAPI) setState(room id.RoomID, t event.Type, key string, content interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[stateKey(room, t, key)] = content
}

func (f *fakeAPI) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	content, ok := contentJSON.(*event.MessageEventContent)
	if !ok {
		return nil, fmt.Errorf("unexpected content %T", contentJSON)
	}
	f.sent = append(f.sent, sentEvent{Room: roomID, Content: content})
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$sent%d", len(f.sent)))}, nil
}

func (f *fakeAPI) UserTyping(_ context.Context, roomID id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{Room: roomID, Typing: typing})
	return &mautrix.RespTyping{}, nil
}

func (f *fakeAPI) CreateRoom(_ context.Context, req *mautrix.ReqCreateRoom) (*mautrix.RespCreateRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	f.nextRoom++
	return &mautrix.RespCreateRoom{RoomID: id.RoomID(fmt.Sprintf("!dm%d:example.org", f.nextRoom))}, nil
}

func (f *fakeAPI) JoinRoomByID(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return &mautrix.RespJoinRoom{RoomID: roomID}, nil
}

func (f *fakeAPI) StateEvent(_ context.Context, roomID id.RoomID, eventType event.Type, key string, out interface{}) error {
	f.mu.Lock()
	content, ok := f.state[stateKey(roomID, eventType, key)]
	f.mu.Unlock()
	if !ok {
		return mautrix.MNotFound
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeAPI) GetAccountData(_ context.Context, name string, output interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return f.accountErr
	}
	raw, ok := f.accountData[name]
	if !ok {
		return mautrix.MNotFound
	}
	return json.Unmarshal(raw, output)
}

func (f *fakeAPI) SetAccountData(_ context.Context, name string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountData[name] = raw
	return nil
}

func (f *fakeAPI) messages() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}
