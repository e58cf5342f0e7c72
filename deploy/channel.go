package deploy

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ChannelRole is a participant's relationship to one channel.
type ChannelRole string

const (
	RoleNone     ChannelRole = "none"
	RoleProducer ChannelRole = "producer"
	RoleConsumer ChannelRole = "consumer"
)

// Shared slot keys inside a channel's tag namespace. The consumer publishes
// all four; producers only look them up.
const (
	slotTokens      = "tokens"
	slotPayload     = "payload"
	slotSizesMeta   = "sizes-meta"
	slotPayloadMeta = "payload-meta"
)

const (
	// tokenSlotSize is one token descriptor: {size, pad} as two u64 words.
	// pad records payload bytes skipped at the ring edge so every token
	// stays contiguous in the payload ring.
	tokenSlotSize = 16
	// metaSize holds a pair of u64 cursors.
	metaSize = 16
)

// channelTag scopes one channel's buffers and barrier inside the global
// namespace. Channel names are unique per request, so tags never collide.
func channelTag(name string) string {
	return "channel/" + name
}

// ChannelHandle is a bound endpoint of one multi-producer single-consumer
// variable-length-token channel. The consumer side owns the shared rings;
// each producer side carries its own private coordination buffers.
//
// Push is producer-only; Peek and Pop are consumer-only. Calling an
// operation without the matching role is a fatal usage error.
type ChannelHandle struct {
	spec Channel
	role ChannelRole

	// Shared state, resident on the consumer participant.
	tokens      Buffer
	payload     Buffer
	sizesMeta   Buffer
	payloadMeta Buffer

	// payloadBacking is the consumer's zero-copy view of the payload ring.
	payloadBacking []byte

	// Producer-private coordination pair and size staging buffer.
	localSizesMeta   Buffer
	localPayloadMeta Buffer
	staging          Buffer
}

// setupChannel runs the collective construction sequence for one requested
// channel. Every participant in the job must call it with the role it holds
// (RoleNone included), in the same channel order, because the publish and
// barrier operations underneath are collectives over the whole group.
//
// The consumer allocates the token ring, the payload ring and the two
// zero-initialized coordination buffers, and publishes them under the
// channel's tag; producers allocate only their private coordination pair and
// a size-staging buffer. After the barrier the shared buffers are resolved
// and the role interface is bound. Participants with no role return nil.
func setupChannel(eng Engine, ch Channel, role ChannelRole) (*ChannelHandle, error) {
	tag := channelTag(ch.Name)

	if role == RoleConsumer {
		// Engine allocations are zero-initialized, which is what resets the
		// cursors in both coordination buffers.
		for key, size := range map[string]int{
			slotTokens:      ch.Capacity * tokenSlotSize,
			slotPayload:     ch.BufferBytes,
			slotSizesMeta:   metaSize,
			slotPayloadMeta: metaSize,
		} {
			if err := eng.Publish(tag, key, eng.Allocate(size)); err != nil {
				return nil, errors.Wrapf(err, "publishing %s for channel %q", key, ch.Name)
			}
		}
	}

	if err := eng.Barrier(tag); err != nil {
		return nil, errors.Wrapf(err, "channel %q barrier", ch.Name)
	}

	if role == RoleNone {
		return nil, nil
	}

	handle := &ChannelHandle{spec: ch, role: role}
	var err error
	if handle.tokens, err = eng.Lookup(tag, slotTokens); err != nil {
		return nil, errors.Wrapf(err, "resolving token ring of channel %q", ch.Name)
	}
	if handle.payload, err = eng.Lookup(tag, slotPayload); err != nil {
		return nil, errors.Wrapf(err, "resolving payload ring of channel %q", ch.Name)
	}
	if handle.sizesMeta, err = eng.Lookup(tag, slotSizesMeta); err != nil {
		return nil, errors.Wrapf(err, "resolving sizes metadata of channel %q", ch.Name)
	}
	if handle.payloadMeta, err = eng.Lookup(tag, slotPayloadMeta); err != nil {
		return nil, errors.Wrapf(err, "resolving payload metadata of channel %q", ch.Name)
	}

	switch role {
	case RoleConsumer:
		backing, ok := handle.payload.Bytes()
		if !ok {
			return nil, errors.Errorf("channel %q consumer does not own the payload ring", ch.Name)
		}
		handle.payloadBacking = backing
	case RoleProducer:
		handle.localSizesMeta = eng.Allocate(metaSize)
		handle.localPayloadMeta = eng.Allocate(metaSize)
		handle.staging = eng.Allocate(8)
	}
	return handle, nil
}

// Name returns the channel's requested name.
func (c *ChannelHandle) Name() string {
	return c.spec.Name
}

// Role returns the role this endpoint is bound to.
func (c *ChannelHandle) Role() ChannelRole {
	return c.role
}

// Push appends the given bytes as one token. It reports false, with no
// partial write, when the channel is at token capacity or the payload ring
// cannot currently hold the token; pushing again after the consumer pops may
// succeed. A token larger than the whole payload ring can never be pushed.
//
// Only producers may push.
func (c *ChannelHandle) Push(data []byte) (bool, error) {
	if c.role != RoleProducer {
		return false, fmt.Errorf("%w: push on channel %q requires the producer role, endpoint holds %q",
			ErrChannelRole, c.spec.Name, c.role)
	}

	need := uint64(len(data))
	ringSize := uint64(c.spec.BufferBytes)
	if need > ringSize {
		return false, nil
	}

	// Stage the token size; the caller's slice acts as the transient local
	// memory handle for the duration of the append.
	if err := writeU64(c.staging, 0, need); err != nil {
		return false, errors.Wrap(err, "staging token size")
	}

	pushed := false
	var seenSizes, seenPayload [2]uint64
	err := c.sizesMeta.Atomically(func() error {
		pushedTokens, err := readU64(c.sizesMeta, 0)
		if err != nil {
			return err
		}
		poppedTokens, err := readU64(c.sizesMeta, 8)
		if err != nil {
			return err
		}
		seenSizes = [2]uint64{pushedTokens, poppedTokens}
		if pushedTokens-poppedTokens >= uint64(c.spec.Capacity) {
			return nil
		}

		headOff, err := readU64(c.payloadMeta, 0)
		if err != nil {
			return err
		}
		tailOff, err := readU64(c.payloadMeta, 8)
		if err != nil {
			return err
		}
		seenPayload = [2]uint64{headOff, tailOff}

		headPos := headOff % ringSize
		var pad uint64
		if headPos+need > ringSize {
			pad = ringSize - headPos
		}
		if ringSize-(headOff-tailOff) < need+pad {
			return nil
		}

		if need > 0 {
			if err := c.payload.WriteAt(data, int((headOff+pad)%ringSize)); err != nil {
				return err
			}
		}
		slot := int(pushedTokens%uint64(c.spec.Capacity)) * tokenSlotSize
		if err := writeU64(c.tokens, slot, need); err != nil {
			return err
		}
		if err := writeU64(c.tokens, slot+8, pad); err != nil {
			return err
		}
		if err := writeU64(c.payloadMeta, 0, headOff+need+pad); err != nil {
			return err
		}
		if err := writeU64(c.sizesMeta, 0, pushedTokens+1); err != nil {
			return err
		}
		seenSizes[0]++
		seenPayload[0] += need + pad
		pushed = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "pushing to channel %q", c.spec.Name)
	}

	c.mirrorCursors(seenSizes, seenPayload)
	return pushed, nil
}

// mirrorCursors records the producer's last-observed ring cursors in its
// private coordination pair.
func (c *ChannelHandle) mirrorCursors(sizes, payload [2]uint64) {
	_ = writeU64(c.localSizesMeta, 0, sizes[0])
	_ = writeU64(c.localSizesMeta, 8, sizes[1])
	_ = writeU64(c.localPayloadMeta, 0, payload[0])
	_ = writeU64(c.localPayloadMeta, 8, payload[1])
}

// Peek returns a view of the next pending token without consuming it, or
// ok=false when the channel is empty. The view aliases the shared payload
// ring: it stays valid only until the next Pop and must not be retained or
// mutated.
//
// Only the consumer may peek.
func (c *ChannelHandle) Peek() ([]byte, bool, error) {
	if c.role != RoleConsumer {
		return nil, false, fmt.Errorf("%w: peek on channel %q requires the consumer role, endpoint holds %q",
			ErrChannelRole, c.spec.Name, c.role)
	}

	var view []byte
	ok := false
	err := c.sizesMeta.Atomically(func() error {
		pushedTokens, err := readU64(c.sizesMeta, 0)
		if err != nil {
			return err
		}
		poppedTokens, err := readU64(c.sizesMeta, 8)
		if err != nil {
			return err
		}
		if pushedTokens == poppedTokens {
			return nil
		}

		slot := int(poppedTokens%uint64(c.spec.Capacity)) * tokenSlotSize
		size, err := readU64(c.tokens, slot)
		if err != nil {
			return err
		}
		pad, err := readU64(c.tokens, slot+8)
		if err != nil {
			return err
		}
		tailOff, err := readU64(c.payloadMeta, 8)
		if err != nil {
			return err
		}
		start := (tailOff + pad) % uint64(c.spec.BufferBytes)
		view = c.payloadBacking[start : start+size]
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "peeking channel %q", c.spec.Name)
	}
	return view, ok, nil
}

// Pop consumes the next pending token, freeing one unit of token capacity
// and the token's payload bytes. It reports false when the channel is empty.
//
// Only the consumer may pop.
func (c *ChannelHandle) Pop() (bool, error) {
	if c.role != RoleConsumer {
		return false, fmt.Errorf("%w: pop on channel %q requires the consumer role, endpoint holds %q",
			ErrChannelRole, c.spec.Name, c.role)
	}

	popped := false
	err := c.sizesMeta.Atomically(func() error {
		pushedTokens, err := readU64(c.sizesMeta, 0)
		if err != nil {
			return err
		}
		poppedTokens, err := readU64(c.sizesMeta, 8)
		if err != nil {
			return err
		}
		if pushedTokens == poppedTokens {
			return nil
		}

		slot := int(poppedTokens%uint64(c.spec.Capacity)) * tokenSlotSize
		size, err := readU64(c.tokens, slot)
		if err != nil {
			return err
		}
		pad, err := readU64(c.tokens, slot+8)
		if err != nil {
			return err
		}
		tailOff, err := readU64(c.payloadMeta, 8)
		if err != nil {
			return err
		}
		if err := writeU64(c.payloadMeta, 8, tailOff+size+pad); err != nil {
			return err
		}
		if err := writeU64(c.sizesMeta, 8, poppedTokens+1); err != nil {
			return err
		}
		popped = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "popping channel %q", c.spec.Name)
	}
	return popped, nil
}

func readU64(b Buffer, off int) (uint64, error) {
	var p [8]byte
	if err := b.ReadAt(p[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p[:]), nil
}

func writeU64(b Buffer, off int, v uint64) error {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], v)
	return b.WriteAt(p[:], off)
}
