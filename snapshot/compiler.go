package snapshot

import (
	"context"

	"github.com/use-agent/browserbridge/cdp"
)

// Warnings records compiler-reported extraction problems, consumed by the
// health classification in health.go.
type Warnings struct {
	AccessibilityTreeEmpty bool
	DOMExtractionEmpty     bool
}

// Compiler produces a snapshot from a live page. It is an external
// collaborator (spec §2, §9): this package specifies its contract and
// ships a reference implementation that is deliberately not a real
// HTML/content extractor — building one is the "general web scraping
// framework" functionality the system's Non-goals rule out.
type Compiler interface {
	Compile(ctx context.Context, client cdp.Client, url string) (*Snapshot, Warnings, error)
}

// ReferenceCompiler is a minimal, dependency-free Compiler used by tests
// and as the bridge's default when no richer collaborator is wired in. It
// extracts only enough to exercise the health/recovery and delta/overlay
// machinery: the URL (the main frame's URL when none is passed in) and the
// main frame's loader id, with no title and zero readable nodes (an agent-supplied
// compiler is expected to replace this for anything beyond smoke-testing
// the pipeline).
type ReferenceCompiler struct {
	idGen func() ID
}

// NewReferenceCompiler builds a ReferenceCompiler. idGen lets tests supply
// deterministic ids; nil uses a counter.
func NewReferenceCompiler(idGen func() ID) *ReferenceCompiler {
	if idGen == nil {
		idGen = defaultIDGenerator()
	}
	return &ReferenceCompiler{idGen: idGen}
}

func (c *ReferenceCompiler) Compile(ctx context.Context, client cdp.Client, url string) (*Snapshot, Warnings, error) {
	frameTree, err := cdp.GetFrameTree(ctx, client)
	if err != nil {
		return nil, Warnings{}, err
	}

	loaderID := ""
	if frameTree != nil && frameTree.Frame != nil {
		loaderID = string(frameTree.Frame.LoaderID)
		if url == "" {
			url = frameTree.Frame.URL
		}
	}

	snap := &Snapshot{
		SnapshotID:        c.idGen(),
		URL:               url,
		MainFrameLoaderID: loaderID,
		Nodes:             nil,
	}
	return snap, Warnings{DOMExtractionEmpty: true}, nil
}

func defaultIDGenerator() func() ID {
	var n uint64
	return func() ID {
		n++
		return ID(snapshotIDPrefix(n))
	}
}

func snapshotIDPrefix(n uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "snap-0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{alphabet[n%uint64(len(alphabet))]}, buf...)
		n /= uint64(len(alphabet))
	}
	return "snap-" + string(buf)
}
