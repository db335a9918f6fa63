// consolidate/pool.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

// PoolSource names where a virtual backup's write pool came from, for the
// job log line that records the decision.
type PoolSource string

const (
	PoolSourceRunOverride  PoolSource = "Run NextPool override"
	PoolSourceJobNextPool  PoolSource = "Job's NextPool resource"
	PoolSourcePoolNextPool PoolSource = "Job Pool's NextPool resource"
	PoolSourcePoolResource PoolSource = "Pool resource"
)

// PoolResolution is the outcome of resolving which pool a virtual
// backup's consolidated data is written into.
type PoolResolution struct {
	WritePoolId int64
	Source      PoolSource
}

// ResolveWritePool implements the precedence order for picking a virtual
// backup's write pool: a run-time NextPool override beats the job's own
// NextPool, which beats the read pool's NextPool, which beats falling
// back to the read pool itself.
func ResolveWritePool(runOverrideNextPool, jobNextPool, poolNextPool, readPoolId int64) PoolResolution {
	switch {
	case runOverrideNextPool != 0:
		return PoolResolution{WritePoolId: runOverrideNextPool, Source: PoolSourceRunOverride}
	case jobNextPool != 0:
		return PoolResolution{WritePoolId: jobNextPool, Source: PoolSourceJobNextPool}
	case poolNextPool != 0:
		return PoolResolution{WritePoolId: poolNextPool, Source: PoolSourcePoolNextPool}
	default:
		return PoolResolution{WritePoolId: readPoolId, Source: PoolSourcePoolResource}
	}
}
