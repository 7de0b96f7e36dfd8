//go:build !windows

package play

// NewNativeCommander returns a commander that runs an external player.
// An empty player picks the first one installed.
func NewNativeCommander(player string) MediaCommander {
	return newProcessCommander(player)
}
