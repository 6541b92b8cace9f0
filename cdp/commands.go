package cdp

import (
	"context"

	"github.com/go-rod/rod/lib/proto"
)

// The commands below are the bit-exact CDP methods spec'd as required of
// the client layer: Page.getFrameTree, Page.navigate, DOM.resolveNode,
// DOM.getBoxModel, DOM.scrollIntoViewIfNeeded, Input.dispatchMouseEvent,
// Runtime.callFunctionOn. Each wrapper exists so callers depend on this
// package's types, not on proto.* directly, keeping the CDP vocabulary in
// one place.

// GetFrameTree issues Page.getFrameTree.
func GetFrameTree(ctx context.Context, c Client) (*proto.PageFrameTree, error) {
	cmd := &proto.PageGetFrameTree{}
	if err := c.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.FrameTree, nil
}

// Navigate issues Page.navigate.
func Navigate(ctx context.Context, c Client, url, referrer string, frameID proto.PageFrameID) error {
	return c.Send(ctx, &proto.PageNavigate{
		URL:      url,
		Referrer: referrer,
		FrameID:  frameID,
	})
}

// ResolveNode issues DOM.resolveNode, returning the runtime object wrapping
// a backend node so it can be passed to Runtime.callFunctionOn.
func ResolveNode(ctx context.Context, c Client, backendNodeID proto.DOMBackendNodeID) (*proto.RuntimeRemoteObject, error) {
	cmd := &proto.DOMResolveNode{BackendNodeID: backendNodeID}
	if err := c.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Object, nil
}

// GetBoxModel issues DOM.getBoxModel for layout/bbox extraction.
func GetBoxModel(ctx context.Context, c Client, backendNodeID proto.DOMBackendNodeID) (*proto.DOMBoxModel, error) {
	cmd := &proto.DOMGetBoxModel{BackendNodeID: backendNodeID}
	if err := c.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Model, nil
}

// ScrollIntoViewIfNeeded issues DOM.scrollIntoViewIfNeeded.
func ScrollIntoViewIfNeeded(ctx context.Context, c Client, backendNodeID proto.DOMBackendNodeID) error {
	return c.Send(ctx, &proto.DOMScrollIntoViewIfNeeded{BackendNodeID: backendNodeID})
}

// DispatchMouseEvent issues Input.dispatchMouseEvent, used by click and
// hover.
func DispatchMouseEvent(ctx context.Context, c Client, eventType proto.InputDispatchMouseEventType, x, y float64, button proto.InputMouseButton, clickCount int) error {
	return c.Send(ctx, &proto.InputDispatchMouseEvent{
		Type:       eventType,
		X:          x,
		Y:          y,
		Button:     button,
		ClickCount: clickCount,
	})
}

// CallFunctionOn issues Runtime.callFunctionOn against a resolved object,
// used for page-side evaluation scoped to a specific element.
func CallFunctionOn(ctx context.Context, c Client, objectID proto.RuntimeRemoteObjectID, functionDeclaration string, args []*proto.RuntimeCallArgument) (*proto.RuntimeRemoteObject, error) {
	cmd := &proto.RuntimeCallFunctionOn{
		ObjectID:            &objectID,
		FunctionDeclaration: functionDeclaration,
		Arguments:           args,
		ReturnByValue:       true,
	}
	if err := c.Send(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Result, nil
}
