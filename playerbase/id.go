// File: playerbase/id.go
// Author: momentics <momentics@gmail.com>

package playerbase

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// GenerateID returns a fresh random player id. The id doubles as the
// reconnect secret, so salt (normally the peer address) is mixed in to make
// ids of other clients harder to predict. Zero and live ids are never
// returned.
func (pb *Playerbase) GenerateID(salt []byte) uint64 {
	for {
		u := uuid.New()
		id := binary.LittleEndian.Uint64(u[:8]) ^ binary.LittleEndian.Uint64(u[8:])
		for i, b := range salt {
			id ^= uint64(b) << (8 * (i % 8))
		}
		if id == 0 {
			continue
		}
		if _, taken := pb.Lookup(id); !taken {
			return id
		}
	}
}
