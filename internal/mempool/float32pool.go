// Package mempool keeps size-classed buffer pools for preprocessing tensors
// and NMS scratch flags.
package mempool

import "sync"

const classStep = 1024

// sizedPool is a family of sync.Pools keyed by size class.
type sizedPool[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

var (
	float32Pool sizedPool[float32]
	boolPool    sizedPool[bool]
)

// sizeClass rounds n up to a multiple of 1024, with a minimum of 1024.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func (sp *sizedPool[T]) pool(cls int) *sync.Pool {
	if p, ok := sp.pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := sp.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

func (sp *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	bp, ok := sp.pool(cls).Get().(*[]T)
	if !ok || cap(*bp) < cls {
		buf := make([]T, cls)
		bp = &buf
	}
	return (*bp)[:n:cap(*bp)]
}

func (sp *sizedPool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// foreign slice with an odd capacity: store it under the class it can serve
		cls -= classStep
		if cls < classStep {
			return
		}
	}
	full := buf[:cap(buf)]
	sp.pool(cls).Put(&full)
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	return float32Pool.get(n)
}

// PutFloat32 returns a buffer to the pool. A nil slice is ignored.
func PutFloat32(buf []float32) {
	float32Pool.put(buf)
}

// GetBool returns a zeroed buffer of length n. Return it with PutBool.
func GetBool(n int) []bool {
	buf := boolPool.get(n)
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. A nil slice is ignored.
func PutBool(buf []bool) {
	boolPool.put(buf)
}
