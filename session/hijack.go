package session

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypesByName maps the human-readable config strings accepted by
// SessionConfig.BlockedResourceTypes to the CDP resource types Network
// events and the hijack router both speak.
var resourceTypesByName = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// blockedResourceSet resolves the configured names to a lookup set,
// dropping anything unrecognized.
func blockedResourceSet(names []string) map[proto.NetworkResourceType]struct{} {
	set := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := resourceTypesByName[name]; ok {
			set[rt] = struct{}{}
		}
	}
	return set
}

// setupHijack installs a request interceptor that fails the configured
// resource types outright so snapshot capture isn't stalled behind heavy
// image/font/media downloads. The same blockedResourceSet also feeds
// networkTracker.onEvent, so a type blocked here is consistently excluded
// from wait_for_network_quiet's in-flight count — the two can't disagree
// about whether a request counts as "work the capture plane is waiting
// on". Returns nil (and starts nothing) if blockedTypes resolves to an
// empty set. Caller owns the returned router and must Stop() it when the
// page closes.
func setupHijack(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := blockedResourceSet(blockedTypes)
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, skip := blocked[ctx.Request.Type()]; skip {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()
	return router
}
