package ejdb

import (
	"go.etcd.io/bbolt"
)

type CollectionStats struct {
	Records   int
	IndexRows int

	DataSize   int
	DataAlloc  int
	IndexSize  int
	IndexAlloc int
}

func (s *CollectionStats) TotalSize() int {
	return s.DataSize + s.IndexSize
}

func (s *CollectionStats) TotalAlloc() int {
	return s.DataAlloc + s.IndexAlloc
}

// Stats reports record and index entry counts and page usage.
func (c *Collection) Stats() (CollectionStats, error) {
	var result CollectionStats
	err := c.use("stats", func(db *DB, eng *engine, cs *collState) error {
		return cs.view(func(btx *bbolt.Tx) error {
			result = cs.stats(btx)
			return nil
		})
	})
	return result, err
}

func (cs *collState) stats(btx *bbolt.Tx) CollectionStats {
	bs := statsOf(btx.Bucket(dataBucket))
	result := CollectionStats{
		Records:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc,
	}
	for _, is := range cs.indexes() {
		bs = statsOf(btx.Bucket([]byte(is.bucketName())))
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc
	}
	return result
}
