package overlay

import (
	"sort"
	"strconv"
	"strings"

	"github.com/use-agent/browserbridge/snapshot"
)

// zIndexOf parses a node's z-index for threshold comparisons. The
// extractor returns "" for an indeterminate z-index; per the preserved
// source behaviour, an indeterminate z-index compares as 0, not as
// "unknown" — this means the class-pattern rule never fires for nodes
// whose z-index could not be determined.
func zIndexOf(n snapshot.ReadableNode) int {
	if n.ZIndex == "" {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(n.ZIndex))
	if err != nil {
		return 0
	}
	return v
}

var overlayClassPattern = []string{"modal", "dialog", "overlay", "popup", "dropdown-menu"}

func hasOverlayClass(className string) bool {
	lower := strings.ToLower(className)
	for _, pat := range overlayClassPattern {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// classify applies the overlay detection rules in order, first match
// wins.
func classify(n snapshot.ReadableNode, zIndexThreshold int) (OverlayType, float64, bool) {
	role := strings.ToLower(n.ARIARole)
	isDialogRole := role == "dialog" || role == "alertdialog"

	switch {
	case isDialogRole && n.ARIAModal:
		return OverlayModal, 1.0, true
	case isDialogRole:
		return OverlayDialog, 0.9, true
	case n.Kind == snapshot.KindDialog:
		return OverlayDialog, 0.85, true
	case hasOverlayClass(n.ClassName) && zIndexOf(n) >= zIndexThreshold:
		if n.ARIAModal {
			return OverlayModal, 0.7, true
		}
		return OverlayDropdown, 0.7, true
	default:
		return "", 0, false
	}
}

// DetectOverlays scans nodes for overlay candidates and returns them
// sorted by z-index then DOM order (ties break by DOM order, i.e. the
// node's position within nodes).
func DetectOverlays(nodes []snapshot.ReadableNode, zIndexThreshold int) []DetectedOverlay {
	var found []DetectedOverlay
	for i, n := range nodes {
		typ, confidence, ok := classify(n, zIndexThreshold)
		if !ok {
			continue
		}
		found = append(found, DetectedOverlay{
			Root:       n,
			Type:       typ,
			Confidence: confidence,
			ZIndex:     zIndexOf(n),
			DOMOrder:   i,
		})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].ZIndex != found[j].ZIndex {
			return found[i].ZIndex < found[j].ZIndex
		}
		return found[i].DOMOrder < found[j].DOMOrder
	})
	return found
}

// overlaySlice extracts the nodes that belong to an overlay from a
// snapshot's full node list, per the source behaviour preserved in spec
// §9: membership is `where.region == "dialog" OR kind == dialog`, which
// conflates "region" with overlay membership (a node can be in the
// dialog region without being the dialog itself, and vice versa). This
// is a documented open question, not a bug to be fixed here.
func overlaySlice(nodes []snapshot.ReadableNode) []snapshot.ReadableNode {
	var slice []snapshot.ReadableNode
	for _, n := range nodes {
		if n.Where.Region == "dialog" || n.Kind == snapshot.KindDialog {
			slice = append(slice, n)
		}
	}
	return slice
}

// nonOverlaySlice is overlaySlice's complement, used when computing the
// "non-overlay portion" of a snapshot on overlay close.
func nonOverlaySlice(nodes []snapshot.ReadableNode) []snapshot.ReadableNode {
	var slice []snapshot.ReadableNode
	for _, n := range nodes {
		if n.Where.Region != "dialog" && n.Kind != snapshot.KindDialog {
			slice = append(slice, n)
		}
	}
	return slice
}
