package rangemap

import (
	"gendb/pkg/dberrors"
	"gendb/pkg/encoding/tuple"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
)

const (
	areaRangemap = "rangemap"
	areaConfig   = "config"
)

var (
	// Prefix covers every rangemap record.
	Prefix = record.NewKey(tuple.Reserved(areaRangemap))
	// ConfigPrefix covers the durable engine metadata.
	ConfigPrefix = record.NewKey(tuple.Reserved(areaConfig))

	// GenerationKey holds the next generation to allocate.
	GenerationKey = ConfigKey("generation")
	// InstanceIDKey holds the engine's instance id.
	InstanceIDKey = ConfigKey("instance-id")
)

// ConfigKey names an entry of the config area.
func ConfigKey(name string) record.Key {
	return record.NewKey(tuple.Reserved(areaConfig), tuple.Str(name))
}

// SegmentKey is the rangemap record key of a segment: (generation, start).
func SegmentKey(gen types.Generation, start record.Key) record.Key {
	return record.NewKey(tuple.Reserved(areaRangemap), tuple.Int(int64(gen)), tuple.Bin(start.Bytes()))
}

// Location is the value of a rangemap record.
type Location struct {
	Address types.Address
	Size    int64
	Count   int
}

func encodeLocation(end record.Key, loc Location) []byte {
	return tuple.Encode(
		tuple.Bin(end.Bytes()),
		tuple.Int(int64(loc.Address)),
		tuple.Int(loc.Size),
		tuple.Int(int64(loc.Count)),
	)
}

// decodeSegment rebuilds a descriptor from a rangemap record.
func decodeSegment(k record.Key, value []byte) (segment.Descriptor, error) {
	kp, err := k.Parts()
	if err != nil {
		return segment.Descriptor{}, err
	}
	if len(kp) != 3 || kp[1].Type != tuple.TypeInt64 || kp[2].Type != tuple.TypeBytes {
		return segment.Descriptor{}, dberrors.Corruptedf("rangemap: malformed key %s", k)
	}

	vp, err := tuple.Decode(value)
	if err != nil {
		return segment.Descriptor{}, err
	}
	if len(vp) != 4 || vp[0].Type != tuple.TypeBytes {
		return segment.Descriptor{}, dberrors.Corruptedf("rangemap: malformed value under %s", k)
	}
	for _, p := range vp[1:] {
		if p.Type != tuple.TypeInt64 {
			return segment.Descriptor{}, dberrors.Corruptedf("rangemap: malformed value under %s", k)
		}
	}

	return segment.Descriptor{
		Generation: types.Generation(kp[1].Int64),
		Start:      record.KeyFromBytes(kp[2].Bytes),
		End:        record.KeyFromBytes(vp[0].Bytes),
		Address:    types.Address(vp[1].Int64),
		Size:       vp[2].Int64,
		Count:      int(vp[3].Int64),
	}, nil
}

// EncodeCounter and DecodeCounter serialize config-area counters.
func EncodeCounter(v uint64) []byte {
	return tuple.Encode(tuple.Int(int64(v)))
}

func DecodeCounter(b []byte) (uint64, error) {
	parts, err := tuple.Decode(b)
	if err != nil {
		return 0, err
	}
	if len(parts) != 1 || parts[0].Type != tuple.TypeInt64 || parts[0].Int64 < 0 {
		return 0, dberrors.Corruptedf("rangemap: malformed counter")
	}
	return uint64(parts[0].Int64), nil
}
