package idgen

import "sync/atomic"

// Int64 returns values 1,2,3... and never wraps, so an ID is never handed out twice
// during the life of the process.
type Int64 struct {
	next atomic.Int64
}

func (g *Int64) Next() int64 {
	return g.next.Add(1)
}

// Last returns the most recently generated ID, or zero if none has been generated
func (g *Int64) Last() int64 {
	return g.next.Load()
}
