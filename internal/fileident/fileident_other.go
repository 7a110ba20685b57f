//go:build !unix

package fileident

func resolve(string) (Identity, bool) {
	return Identity{}, false
}
