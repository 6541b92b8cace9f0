package toolsurface

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

var errResolveFailed = errors.New("resolve failed")

// fakeCDPClient records every command it is sent and lets a test script
// canned responses onto specific command types, mirroring the white-box
// fake client pattern the session package's own tests use.
type fakeCDPClient struct {
	sent    []proto.Request
	onSend  func(cmd proto.Request) error
	active  bool
	lastKey []*proto.InputDispatchKeyEvent
}

func (f *fakeCDPClient) Send(ctx context.Context, cmd proto.Request) error {
	f.sent = append(f.sent, cmd)
	if k, ok := cmd.(*proto.InputDispatchKeyEvent); ok {
		f.lastKey = append(f.lastKey, k)
	}
	if f.onSend != nil {
		return f.onSend(cmd)
	}
	return nil
}

func (f *fakeCDPClient) Subscribe(method string, handler func([]byte)) func() { return func() {} }
func (f *fakeCDPClient) Close()                                               { f.active = false }
func (f *fakeCDPClient) IsActive() bool                                       { return f.active }

func TestBoxCenterAveragesQuad(t *testing.T) {
	client := &fakeCDPClient{active: true}
	client.onSend = func(cmd proto.Request) error {
		if m, ok := cmd.(*proto.DOMGetBoxModel); ok {
			m.Model = &proto.DOMBoxModel{Content: proto.DOMQuad{0, 0, 10, 0, 10, 10, 0, 10}}
		}
		return nil
	}

	x, y, err := boxCenter(context.Background(), client, proto.DOMBackendNodeID(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x != 5 || y != 5 {
		t.Errorf("expected centroid (5,5), got (%v,%v)", x, y)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected scroll-into-view then get-box-model, got %d sends", len(client.sent))
	}
	if _, ok := client.sent[0].(*proto.DOMScrollIntoViewIfNeeded); !ok {
		t.Errorf("expected first command to be scroll-into-view, got %T", client.sent[0])
	}
}

func TestDispatchClickSendsMoveThenPressThenRelease(t *testing.T) {
	client := &fakeCDPClient{active: true}
	if err := dispatchClick(context.Background(), client, 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 3 {
		t.Fatalf("expected 3 mouse events, got %d", len(client.sent))
	}
	types := []proto.InputDispatchMouseEventType{
		proto.InputDispatchMouseEventTypeMouseMoved,
		proto.InputDispatchMouseEventTypeMousePressed,
		proto.InputDispatchMouseEventTypeMouseReleased,
	}
	for i, wantType := range types {
		ev, ok := client.sent[i].(*proto.InputDispatchMouseEvent)
		if !ok {
			t.Fatalf("event %d: expected *InputDispatchMouseEvent, got %T", i, client.sent[i])
		}
		if ev.Type != wantType {
			t.Errorf("event %d: expected type %v, got %v", i, wantType, ev.Type)
		}
	}
}

func TestDispatchHoverSendsOneMove(t *testing.T) {
	client := &fakeCDPClient{active: true}
	if err := dispatchHover(context.Background(), client, 3, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 mouse event, got %d", len(client.sent))
	}
}

func TestPressKeyNamedKeySendsDownThenUp(t *testing.T) {
	client := &fakeCDPClient{active: true}
	if err := pressKey(context.Background(), client, "Enter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.lastKey) != 2 {
		t.Fatalf("expected down+up, got %d key events", len(client.lastKey))
	}
	if client.lastKey[0].Type != proto.InputDispatchKeyEventTypeRawKeyDown {
		t.Errorf("expected raw key down first, got %v", client.lastKey[0].Type)
	}
	if client.lastKey[1].Type != proto.InputDispatchKeyEventTypeKeyUp {
		t.Errorf("expected key up second, got %v", client.lastKey[1].Type)
	}
	if client.lastKey[0].WindowsVirtualKeyCode != 13 {
		t.Errorf("expected Enter's virtual key code 13, got %d", client.lastKey[0].WindowsVirtualKeyCode)
	}
}

func TestPressKeyPrintableCharUsesKeyDownWithText(t *testing.T) {
	client := &fakeCDPClient{active: true}
	if err := pressKey(context.Background(), client, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.lastKey[0].Type != proto.InputDispatchKeyEventTypeKeyDown {
		t.Errorf("expected printable char to use key down, got %v", client.lastKey[0].Type)
	}
	if client.lastKey[0].Text != "a" {
		t.Errorf("expected text 'a', got %q", client.lastKey[0].Text)
	}
}

func TestScrollPageDispatchesWheelAtCenter(t *testing.T) {
	client := &fakeCDPClient{active: true}
	if err := scrollPage(context.Background(), client, 1000, 800, 0, 300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, ok := client.sent[0].(*proto.InputDispatchMouseEvent)
	if !ok {
		t.Fatalf("expected *InputDispatchMouseEvent, got %T", client.sent[0])
	}
	if ev.Type != proto.InputDispatchMouseEventTypeMouseWheel {
		t.Errorf("expected wheel event, got %v", ev.Type)
	}
	if ev.X != 500 || ev.Y != 400 {
		t.Errorf("expected center (500,400), got (%v,%v)", ev.X, ev.Y)
	}
	if ev.DeltaY != 300 {
		t.Errorf("expected DeltaY 300, got %v", ev.DeltaY)
	}
}

func TestSetElementValuePropagatesResolveError(t *testing.T) {
	client := &fakeCDPClient{active: true}
	wantErr := errResolveFailed
	client.onSend = func(cmd proto.Request) error {
		if _, ok := cmd.(*proto.DOMResolveNode); ok {
			return wantErr
		}
		return nil
	}
	if err := setElementValue(context.Background(), client, proto.DOMBackendNodeID(1), "hello"); err != wantErr {
		t.Fatalf("expected resolve error to propagate, got %v", err)
	}
}
