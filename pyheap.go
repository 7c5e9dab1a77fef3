// Package pyheap analyzes heap snapshots captured from running Python
// processes. It loads the PyHeap snapshot container, indexes inbound
// references, and computes dominator-tree retained heap sizes with a
// persistent on-disk cache.
package pyheap

// Version is the semantic version of the pyheap analyzer.
const Version = "1.0.0"
