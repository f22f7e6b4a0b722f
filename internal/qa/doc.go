// Package qa renders the manual review queue and records reviewer
// decisions. Recorded decisions take effect on the next normalize pass.
package qa
