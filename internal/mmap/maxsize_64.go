//go:build !(386 || arm || mips || mipsle)

package mmap

// MaxSize represents the largest supported mmap size.
const MaxSize = 0xFFFFFFFFFFFF // 256TB
