package request

// InlineLimits bounds how deep and how wide a container's children may be
// inlined into its own response: "a per-node child
// count (INLINED_CONTENTS_LIMIT, ≈ 500) and a recursion depth
// (DEPTH_LIMIT, ≈ 5). Beyond either cap, fall back to normal pagination."
type InlineLimits struct {
	ContentsLimit int
	DepthLimit    int
}

// ShouldInline reports whether a container with childCount children at
// recursion depth may be inlined under l's caps.
func (l InlineLimits) ShouldInline(childCount, depth int) bool {
	return childCount <= l.ContentsLimit && depth <= l.DepthLimit
}
