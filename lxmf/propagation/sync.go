package propagation

import (
	"context"
	"crypto/sha256"

	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// SyncState is the sync/retrieval state machine from spec.md §4.5.
type SyncState int

const (
	Idle SyncState = iota
	RequestingLink
	LinkEstablished
	RequestingList
	Receiving
	Complete
	SyncFailed
	NoPath
	NoLink
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case RequestingLink:
		return "REQUESTING_LINK"
	case LinkEstablished:
		return "LINK_ESTABLISHED"
	case RequestingList:
		return "REQUESTING_LIST"
	case Receiving:
		return "RECEIVING"
	case Complete:
		return "COMPLETE"
	case SyncFailed:
		return "FAILED"
	case NoPath:
		return "NO_PATH"
	case NoLink:
		return "NO_LINK"
	default:
		return "UNKNOWN"
	}
}

func (s SyncState) terminal() bool {
	switch s {
	case Complete, SyncFailed, NoPath, NoLink:
		return true
	default:
		return false
	}
}

// InboundMessage is a decrypted propagation entry recovered from a sync
// response. Payload is the bare packed_payload (no destination_hash/
// source_hash/signature prefix — a propagation node's wire entry never
// carries one), ready for the Router's propagated-delivery intake.
type InboundMessage struct {
	TransientID [32]byte
	Payload     []byte
	DestHash    [16]byte
}

func (c *Client) setState(s SyncState) {
	c.mu.Lock()
	c.syncState = s
	c.mu.Unlock()
}

// State returns the current sync/retrieval state.
func (c *Client) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncState
}

// LastResult returns the message count delivered by the most recently
// completed sync.
func (c *Client) LastResult() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// RequestMessages runs the full sync/retrieval state machine against the
// active propagation node (spec §4.5), decrypting each returned entry with
// decrypt and handing decrypted payloads to onMessage as they arrive.
func (c *Client) RequestMessages(ctx context.Context, decrypt func(ciphertext []byte) ([]byte, error), onMessage func(InboundMessage)) error {
	active, ok := c.registry.Active()
	if !ok {
		c.setState(NoPath)
		return lxerr.New(lxerr.LinkFailed, "propagation: no active node")
	}

	c.setState(RequestingLink)
	dest, ok := c.destOf(active.DestHash)
	if !ok {
		c.setState(NoPath)
		return lxerr.New(lxerr.LinkFailed, "propagation: active node destination unknown")
	}
	link, err := c.opener.Open(ctx, dest)
	if err != nil {
		c.setState(NoPath)
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: open link", err)
	}
	if err := link.Establish(ctx); err != nil {
		c.setState(NoLink)
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: establish link", err)
	}
	if err := link.Identify(c.identity); err != nil {
		c.setState(NoLink)
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: identify", err)
	}

	closed := make(chan struct{})
	link.OnClosed(func(error) {
		select {
		case <-closed:
		default:
			close(closed)
		}
	})

	c.setState(LinkEstablished)

	delivered := 0
	done := make(chan error, 1)
	go c.driveSync(ctx, link, decrypt, onMessage, &delivered, done)

	select {
	case err := <-done:
		c.mu.Lock()
		c.lastResult = delivered
		c.mu.Unlock()
		return err
	case <-closed:
		if c.State().terminal() {
			return nil
		}
		c.setState(SyncFailed)
		return lxerr.New(lxerr.LinkClosed, "propagation: link closed during sync")
	case <-ctx.Done():
		c.setState(SyncFailed)
		return lxerr.Wrap(lxerr.TransferTimeout, "propagation: sync deadline", ctx.Err())
	}
}

// driveSync runs the two round trips spec.md §4.5 describes: REQUESTING_LIST
// asks for the transient ids a node currently holds; RECEIVING then asks for
// only the ids not already seen, looping over however many batches the node
// needs to deliver them all.
func (c *Client) driveSync(ctx context.Context, link transport.Link, decrypt func([]byte) ([]byte, error), onMessage func(InboundMessage), delivered *int, done chan<- error) {
	responses := make(chan []byte, 8)
	link.OnPacket(func(payload []byte) {
		select {
		case responses <- payload:
		case <-ctx.Done():
		}
	})

	c.setState(RequestingList)
	listReq, err := wirecodec.PackGetRequest(wirecodec.GetRequest{ListAll: true})
	if err != nil {
		done <- err
		return
	}
	if err := link.SendPacket(listReq); err != nil {
		c.setState(SyncFailed)
		done <- lxerr.Wrap(lxerr.LinkFailed, "propagation: send list request", err)
		return
	}

	var listing []byte
	select {
	case listing = <-responses:
	case <-ctx.Done():
		c.setState(SyncFailed)
		done <- lxerr.Wrap(lxerr.TransferTimeout, "propagation: awaiting list", ctx.Err())
		return
	}

	ids, err := wirecodec.UnpackTransientIDList(listing)
	if err != nil {
		c.setState(SyncFailed)
		done <- err
		return
	}

	wants := make([][32]byte, 0, len(ids))
	remaining := make(map[[32]byte]bool, len(ids))
	for _, id := range ids {
		if seen, _ := c.registry.HasSeen(id); seen {
			continue
		}
		wants = append(wants, id)
		remaining[id] = true
	}
	if len(wants) == 0 {
		c.setState(Complete)
		done <- nil
		return
	}

	c.setState(Receiving)
	getReq, err := wirecodec.PackGetRequest(wirecodec.GetRequest{Wants: wants})
	if err != nil {
		c.setState(SyncFailed)
		done <- err
		return
	}
	if err := link.SendPacket(getReq); err != nil {
		c.setState(SyncFailed)
		done <- lxerr.Wrap(lxerr.LinkFailed, "propagation: send get request", err)
		return
	}

	for len(remaining) > 0 {
		var batch []byte
		select {
		case batch = <-responses:
		case <-ctx.Done():
			c.setState(SyncFailed)
			done <- lxerr.Wrap(lxerr.TransferTimeout, "propagation: awaiting entries", ctx.Err())
			return
		}

		_, entries, err := wirecodec.UnpackPropagationBatch(batch)
		if err != nil {
			c.log.WithError(err).Warn("propagation: dropped malformed entry batch")
			continue
		}
		for _, entry := range entries {
			destHash, ciphertext, stamp, err := wirecodec.SplitPropagationEntry(entry)
			_ = stamp
			if err != nil {
				continue
			}
			idInput := append(append([]byte(nil), destHash[:]...), ciphertext...)
			tid := sha256.Sum256(idInput)
			if !remaining[tid] {
				// SplitPropagationEntry treats the last HashSize bytes of any
				// long enough entry as a stamp; an unstamped entry matches a
				// requested id only with its whole body as ciphertext.
				whole := entry[wirecodec.DestHashSize:]
				alt := sha256.Sum256(append(append([]byte(nil), destHash[:]...), whole...))
				if !remaining[alt] {
					continue
				}
				ciphertext, tid = whole, alt
			}
			plaintext, err := decrypt(ciphertext)
			if err != nil {
				c.log.WithError(err).Warn("propagation: failed to decrypt synced entry")
				delete(remaining, tid)
				continue
			}
			onMessage(InboundMessage{TransientID: tid, Payload: plaintext, DestHash: destHash})
			_ = c.registry.MarkSeen(tid)
			*delivered++
			delete(remaining, tid)
		}
	}

	c.setState(Complete)
	done <- nil
}
