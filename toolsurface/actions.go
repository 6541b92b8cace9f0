package toolsurface

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/browserbridge/cdp"
)

// The action helpers below are deliberately built only on the CDP
// vocabulary spec'd as required of the client layer (DOM.resolveNode,
// DOM.getBoxModel, DOM.scrollIntoViewIfNeeded, Input.dispatchMouseEvent,
// Runtime.callFunctionOn), plus Input.dispatchKeyEvent for press, which
// needs no prior node resolution since it targets whatever has focus.

// boxCenter resolves backendNodeID's box model and returns its content
// quad's centroid, scrolling the node into view first so the coordinates
// are valid for a mouse event.
func boxCenter(ctx context.Context, client cdp.Client, backendNodeID proto.DOMBackendNodeID) (x, y float64, err error) {
	if err := cdp.ScrollIntoViewIfNeeded(ctx, client, backendNodeID); err != nil {
		return 0, 0, err
	}
	box, err := cdp.GetBoxModel(ctx, client, backendNodeID)
	if err != nil {
		return 0, 0, err
	}
	return centroid(box.Content), nil
}

// centroid averages a CDP quad's four (x,y) pairs.
func centroid(quad proto.DOMQuad) (float64, float64) {
	var sx, sy float64
	for i := 0; i < 4; i++ {
		sx += quad[i*2]
		sy += quad[i*2+1]
	}
	return sx / 4, sy / 4
}

// dispatchClick issues the move/press/release mouse-event sequence at
// (x, y).
func dispatchClick(ctx context.Context, client cdp.Client, x, y float64) error {
	if err := cdp.DispatchMouseEvent(ctx, client, proto.InputDispatchMouseEventTypeMouseMoved, x, y, proto.InputMouseButtonNone, 0); err != nil {
		return err
	}
	if err := cdp.DispatchMouseEvent(ctx, client, proto.InputDispatchMouseEventTypeMousePressed, x, y, proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	return cdp.DispatchMouseEvent(ctx, client, proto.InputDispatchMouseEventTypeMouseReleased, x, y, proto.InputMouseButtonLeft, 1)
}

// dispatchHover issues a bare mouse-move at (x, y).
func dispatchHover(ctx context.Context, client cdp.Client, x, y float64) error {
	return cdp.DispatchMouseEvent(ctx, client, proto.InputDispatchMouseEventTypeMouseMoved, x, y, proto.InputMouseButtonNone, 0)
}

// setElementValue resolves backendNodeID to a runtime object and sets its
// value (input/textarea) or innerText (everything else), dispatching
// input and change events so framework-bound listeners observe it.
func setElementValue(ctx context.Context, client cdp.Client, backendNodeID proto.DOMBackendNodeID, value string) error {
	obj, err := cdp.ResolveNode(ctx, client, backendNodeID)
	if err != nil {
		return err
	}
	const fn = `function(v) {
		this.focus();
		if ('value' in this) { this.value = v; } else { this.innerText = v; }
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`
	_, err = cdp.CallFunctionOn(ctx, client, obj.ObjectID, fn, []*proto.RuntimeCallArgument{{Value: proto.NewJSON(value)}})
	return err
}

// selectElementValue resolves backendNodeID to a <select> and sets its
// value, dispatching a change event.
func selectElementValue(ctx context.Context, client cdp.Client, backendNodeID proto.DOMBackendNodeID, value string) error {
	obj, err := cdp.ResolveNode(ctx, client, backendNodeID)
	if err != nil {
		return err
	}
	const fn = `function(v) {
		this.value = v;
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`
	_, err = cdp.CallFunctionOn(ctx, client, obj.ObjectID, fn, []*proto.RuntimeCallArgument{{Value: proto.NewJSON(value)}})
	return err
}

// namedKeys maps the recognized named keys (spec §6's press examples) to
// their CDP key/code/virtual-key-code triple. Unrecognized single-rune
// keys are dispatched as a printable character below.
var namedKeys = map[string]struct {
	code string
	vk   int64
}{
	"Enter":      {"Enter", 13},
	"Tab":        {"Tab", 9},
	"Escape":     {"Escape", 27},
	"Backspace":  {"Backspace", 8},
	"Delete":     {"Delete", 46},
	"ArrowUp":    {"ArrowUp", 38},
	"ArrowDown":  {"ArrowDown", 40},
	"ArrowLeft":  {"ArrowLeft", 37},
	"ArrowRight": {"ArrowRight", 39},
	"Home":       {"Home", 36},
	"End":        {"End", 35},
	"PageUp":     {"PageUp", 33},
	"PageDown":   {"PageDown", 34},
}

// pressKey dispatches a raw-key-down then key-up for key, targeting
// whatever element currently has focus; press never resolves an eid.
func pressKey(ctx context.Context, client cdp.Client, key string) error {
	named, ok := namedKeys[key]
	keyText, code, vk := key, key, int64(0)
	if ok {
		code, vk = named.code, named.vk
	}

	down := &proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeRawKeyDown,
		Key:                   keyText,
		Code:                  code,
		WindowsVirtualKeyCode: vk,
		NativeVirtualKeyCode:  vk,
	}
	up := &proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeKeyUp,
		Key:                   keyText,
		Code:                  code,
		WindowsVirtualKeyCode: vk,
		NativeVirtualKeyCode:  vk,
	}
	if !ok && len([]rune(key)) == 1 {
		down.Type = proto.InputDispatchKeyEventTypeKeyDown
		down.Text = key
	}

	if err := client.Send(ctx, down); err != nil {
		return fmt.Errorf("press %q key down: %w", key, err)
	}
	return client.Send(ctx, up)
}

// scrollPage dispatches a synthetic wheel event at the viewport center,
// for the eid-less scroll_page verb (direction + amount).
func scrollPage(ctx context.Context, client cdp.Client, viewportW, viewportH, deltaX, deltaY float64) error {
	return client.Send(ctx, &proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseWheel,
		X:      viewportW / 2,
		Y:      viewportH / 2,
		DeltaX: deltaX,
		DeltaY: deltaY,
	})
}
