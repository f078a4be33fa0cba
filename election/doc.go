// Package election implements term-based leader election for the
// cluster. Each node runs a Manager that moves between Follower,
// Candidate and Leader roles driven by heartbeat recency and vote
// exchanges over a pluggable Transport.
//
// Terms only ever increase. A node that observes a claim bearing a
// strictly higher term steps down immediately; a candidate that sees
// an equal-or-higher claim before securing quorum reverts to follower.
// Among simultaneous same-term candidacies the node with the smaller
// identity defers, which bounds convergence without extra rounds.
package election
