package wal

import (
	"encoding/binary"
	"fmt"

	"gendb/pkg/dberrors"
	"gendb/pkg/types"
)

// Command is the kind of a log record.
type Command uint8

const (
	// CmdUpdate carries one encoded record.Pair.
	CmdUpdate Command = iota + 1
	// CmdCheckpointStart retires the working segment.
	CmdCheckpointStart
	// CmdCheckpointDrop forgets the oldest retired segment.
	CmdCheckpointDrop
	// CmdPacket carries several commands that apply atomically.
	CmdPacket
)

func (c Command) String() string {
	switch c {
	case CmdUpdate:
		return "UPDATE"
	case CmdCheckpointStart:
		return "CHECKPOINT_START"
	case CmdCheckpointDrop:
		return "CHECKPOINT_DROP"
	case CmdPacket:
		return "PACKET"
	default:
		return fmt.Sprintf("CMD(%d)", uint8(c))
	}
}

// Entry is one log record.
type Entry struct {
	Seq     types.SeqN
	Cmd     Command
	Payload []byte
}

// EncodePacket packs commands into a single PACKET payload.
func EncodePacket(cmds []Entry) []byte {
	var buf []byte
	for _, c := range cmds {
		buf = append(buf, byte(c.Cmd))
		buf = binary.AppendUvarint(buf, uint64(len(c.Payload)))
		buf = append(buf, c.Payload...)
	}
	return buf
}

// DecodePacket unpacks a PACKET payload. The commands inherit seq.
func DecodePacket(seq types.SeqN, payload []byte) ([]Entry, error) {
	var cmds []Entry
	for len(payload) > 0 {
		cmd := Command(payload[0])
		if cmd == CmdPacket {
			return nil, dberrors.Corruptedf("wal: nested packet at seq %d", seq)
		}
		n, sz := binary.Uvarint(payload[1:])
		if sz <= 0 || uint64(len(payload)-1-sz) < n {
			return nil, dberrors.Corruptedf("wal: truncated packet at seq %d", seq)
		}
		start := 1 + sz
		cmds = append(cmds, Entry{
			Seq:     seq,
			Cmd:     cmd,
			Payload: payload[start : start+int(n)],
		})
		payload = payload[start+int(n):]
	}
	return cmds, nil
}
