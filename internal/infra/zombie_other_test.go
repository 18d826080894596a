//go:build !linux && !windows

package infra

func zombie(int) bool {
	return false
}
