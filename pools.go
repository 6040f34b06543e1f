package ejdb

import "sync"

// Pooled buffers only hold data that is copied before a bbolt Put; bbolt
// keeps references to the keys and values it is given until commit.

var indexRowsPool = &sync.Pool{
	New: func() any {
		return make(indexRows, 0, 64)
	},
}

func releaseIndexRows(rows indexRows) {
	clear(rows)
	indexRowsPool.Put(rows[:0])
}

var indexBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func releaseIndexBytes(b []byte) {
	if cap(b) <= 1<<20 {
		indexBytesPool.Put(b[:0])
	}
}
