// Package revision tracks the version token of an open document and gates
// writes on it.
package revision

// CheckConflict reports whether the locally tracked token differs from the
// token the remote currently reports. A document that was never saved
// (empty local token) conflicts with any existing remote content.
func CheckConflict(localToken, remoteToken string) bool {
	return localToken != remoteToken
}
