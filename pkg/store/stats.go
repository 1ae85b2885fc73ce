package store

import "gendb/pkg/types"

// Stats is a point-in-time summary of the store.
type Stats struct {
	State      string `json:"state"`
	InstanceID string `json:"instance_id"`

	WorkingRows    int   `json:"working_rows"`
	WorkingBytes   int64 `json:"working_bytes"`
	FrozenSegments int   `json:"frozen_segments"`

	Segments    int                `json:"segments"`
	Generations []types.Generation `json:"generations"`
	GenCount    uint64             `json:"generations_allocated"`
	Candidates  int                `json:"merge_candidates"`

	LastSeq    types.SeqN `json:"last_seq"`
	DurableSeq types.SeqN `json:"durable_seq"`
	WALBytes   int64      `json:"wal_bytes"`

	Regions          int   `json:"regions"`
	RegionBytes      int64 `json:"region_bytes"`
	DeferredReleases int   `json:"deferred_releases"`

	CachedReaders int   `json:"cached_readers"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
}

func (s *Store) Stats() Stats {
	st := Stats{
		State:            stateName(s.state.Load()),
		InstanceID:       s.instanceID,
		GenCount:         s.rm.GenCount(),
		Candidates:       s.merges.NumberOfCandidates(),
		LastSeq:          s.jr.LastSeq(),
		DurableSeq:       s.jr.DurableSeq(),
		WALBytes:         s.jr.Size(),
		Regions:          s.alloc.Len(),
		RegionBytes:      s.alloc.Used(),
		DeferredReleases: s.alloc.Deferred(),
		CachedReaders:    s.rm.Cache().Len(),
	}
	st.CacheHits, st.CacheMisses = s.rm.Cache().Stats()

	s.listMu.RLock()
	st.WorkingRows = s.working.Len()
	st.WorkingBytes = s.working.Size()
	st.FrozenSegments = len(s.frozen)
	s.listMu.RUnlock()

	v := s.rm.Snapshot()
	st.Segments = v.Len()
	st.Generations = v.Generations()
	return st
}

func stateName(state int32) string {
	switch state {
	case stateRecovering:
		return "recovering"
	case stateOpen:
		return "open"
	case stateFailed:
		return "failed"
	default:
		return "closed"
	}
}
