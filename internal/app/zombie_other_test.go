//go:build !linux && !windows

package app

func zombie(int) bool {
	return false
}
