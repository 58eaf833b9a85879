// Package clipboard is a stub for the `--no-clipboard`-gated copy
// behavior, which is out of scope here: there is no OS clipboard
// integration, only something for the flag to bind to.
package clipboard

// Copy is a no-op; clipboard integration is an external collaborator
// this project does not implement.
func Copy(string) error {
	return nil
}
