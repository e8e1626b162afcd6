// Package feedback holds the domain model shared by every FeedForward
// component: categories, classification results, priority scoring and the
// urgency/impact filter.
package feedback
