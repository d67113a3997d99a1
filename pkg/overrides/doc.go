// Package overrides stores scoped feature and module overrides with an
// append-only audit trail. Overrides never widen access on their own;
// they flip gates that resolution consults in precedence order.
package overrides
