//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package region

type osMapper = sliceMapper
