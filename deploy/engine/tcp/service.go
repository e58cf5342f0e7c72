package tcp

import (
	"github.com/pkg/errors"
)

// Wire types for the two RPC services. Everything rides net/rpc's gob
// codec, so all payloads are plain exported-field structs.

type JoinArgs struct {
	ServeAddr string
}

type JoinReply struct {
	Index int
	Count int
	Addrs []string
}

type InvokeArgs struct {
	Name string
	Arg  []byte
}

type InvokeReply struct {
	Ret []byte
}

type PublishArgs struct {
	Tag string
	Key string
	Ref bufferRef
}

type LookupArgs struct {
	Tag string
	Key string
}

type LookupReply struct {
	Ref bufferRef
}

type BarrierArgs struct {
	Tag string
}

type AbortArgs struct {
	Code int
}

type StopArgs struct {
	Code int
}

type BufReadArgs struct {
	ID  uint64
	Off int
	Len int
}

type BufReadReply struct {
	Data []byte
}

type BufWriteArgs struct {
	ID   uint64
	Off  int
	Data []byte
}

type BufLockArgs struct {
	ID uint64
}

type Ack struct{}

// PeerService is the RPC surface every participant exposes: protocol call
// delivery and access to its locally owned buffers.
type PeerService struct {
	e *Engine
}

// Invoke hands one protocol call to the participant goroutine and blocks
// until it has been serviced inside Listen. That block is what gives Call
// its finished-servicing guarantee.
func (s *PeerService) Invoke(args *InvokeArgs, reply *InvokeReply) error {
	req := &rpcRequest{name: args.Name, arg: args.Arg, done: make(chan struct{})}
	select {
	case s.e.inbox <- req:
	case <-s.e.latch.ch:
		return s.e.latch.err()
	}
	select {
	case <-req.done:
	case <-s.e.latch.ch:
		return s.e.latch.err()
	}
	reply.Ret = req.reply
	return nil
}

func (s *PeerService) BufRead(args *BufReadArgs, reply *BufReadReply) error {
	b, err := s.e.buffers.get(args.ID)
	if err != nil {
		return err
	}
	reply.Data = make([]byte, args.Len)
	return b.ReadAt(reply.Data, args.Off)
}

func (s *PeerService) BufWrite(args *BufWriteArgs, _ *Ack) error {
	b, err := s.e.buffers.get(args.ID)
	if err != nil {
		return err
	}
	return b.WriteAt(args.Data, args.Off)
}

// BufLock blocks its service goroutine until the buffer's lock is acquired;
// BufUnlock releases it from whichever goroutine handles that later call.
func (s *PeerService) BufLock(args *BufLockArgs, _ *Ack) error {
	b, err := s.e.buffers.get(args.ID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	return nil
}

func (s *PeerService) BufUnlock(args *BufLockArgs, _ *Ack) error {
	b, err := s.e.buffers.get(args.ID)
	if err != nil {
		return err
	}
	b.mu.Unlock()
	return nil
}

// Stop trips this participant's abort latch.
func (s *PeerService) Stop(args *StopArgs, _ *Ack) error {
	s.e.latch.trip(args.Code)
	return nil
}

// HubService is the coordinator-only RPC surface: rendezvous, buffer
// directory, barriers and job abort.
type HubService struct {
	h *hub
}

func (s *HubService) Join(args *JoinArgs, reply *JoinReply) error {
	if args.ServeAddr == "" {
		return errors.New("join without a serve address")
	}
	welcome, err := s.h.join(args.ServeAddr)
	if err != nil {
		return err
	}
	*reply = welcome
	return nil
}

func (s *HubService) Publish(args *PublishArgs, _ *Ack) error {
	return s.h.publish(args.Tag, args.Key, args.Ref)
}

func (s *HubService) Lookup(args *LookupArgs, reply *LookupReply) error {
	ref, err := s.h.lookup(args.Tag, args.Key)
	if err != nil {
		return err
	}
	reply.Ref = ref
	return nil
}

func (s *HubService) BarrierArrive(args *BarrierArgs, _ *Ack) error {
	return s.h.barrierArrive(args.Tag)
}

func (s *HubService) AbortJob(args *AbortArgs, _ *Ack) error {
	s.h.abortJob(args.Code)
	return nil
}
