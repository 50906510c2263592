package firacp

import "fmt"

// adminError is a transport failure with an administrative error code a
// peer could be told about.
type adminError struct {
	code AdminErrorCode
}

func (e adminError) Error() string {
	return fmt.Sprintf("firacp: %s", e.code)
}

// AdminCode extracts the administrative error code from err, if it has one.
func AdminCode(err error) (AdminErrorCode, bool) {
	ae, ok := err.(adminError)
	return ae.code, ok
}

// outboundMessage is one queued message with a cursor over its encoded
// bytes. The cursor advances one packet payload at a time.
type outboundMessage struct {
	secid byte
	data  []byte
	off   int
}

// An outboundQueue fragments queued messages into data packets. Messages
// drain strictly FIFO; packets for one message are never interleaved with
// another's.
type outboundQueue struct {
	pending []*outboundMessage
}

// push enqueues m for secid and reports whether the queue was empty, in
// which case the caller kicks off the first transmission.
func (q *outboundQueue) push(secid byte, m FiraConnectorMessage) bool {
	wasEmpty := len(q.pending) == 0
	q.pending = append(q.pending, &outboundMessage{secid: secid, data: m.Encode()})
	return wasEmpty
}

// nextPacket cuts the next packet of at most packetSize octets (header
// included) off the head message, popping the head once fully consumed.
// It returns false when the queue is empty. packetSize must be at least 2
// so every packet makes progress.
func (q *outboundQueue) nextPacket(packetSize int) (FiraConnectorDataPacket, bool) {
	if len(q.pending) == 0 || packetSize < PacketHeaderSize+1 {
		return FiraConnectorDataPacket{}, false
	}
	head := q.pending[0]
	n := packetSize - PacketHeaderSize
	if remaining := len(head.data) - head.off; n > remaining {
		n = remaining
	}
	payload := head.data[head.off : head.off+n]
	head.off += n
	last := head.off == len(head.data)
	if last {
		q.pending = q.pending[1:]
	}
	return FiraConnectorDataPacket{
		LastChainingPacket: last,
		Secid:              head.secid,
		Payload:            payload,
	}, true
}

func (q *outboundQueue) empty() bool { return len(q.pending) == 0 }

func (q *outboundQueue) clear() { q.pending = nil }

// A reassembler rebuilds messages from chained data packets. Each SECID
// owns its own chain; at most maxSessions SECIDs may have an unterminated
// chain at once. With the default bound of one this collapses to a single
// queue: a packet for a second SECID is rejected and the standing chain
// kept.
type reassembler struct {
	maxSessions int
	maxMessage  int
	chains      map[byte][][]byte
}

func newReassembler(maxSessions, maxMessage int) *reassembler {
	return &reassembler{
		maxSessions: maxSessions,
		maxMessage:  maxMessage,
		chains:      make(map[byte][][]byte),
	}
}

// setBounds adopts new session and message-size bounds without touching
// standing chains.
func (r *reassembler) setBounds(maxSessions, maxMessage int) {
	r.maxSessions = maxSessions
	r.maxMessage = maxMessage
}

// push takes one inbound packet. On the last chaining packet it returns
// the completed message for the packet's SECID. A packet refused for the
// session bound leaves every standing chain untouched; a packet that
// overflows the message bound discards its own SECID's chain.
func (r *reassembler) push(p FiraConnectorDataPacket) (FiraConnectorMessage, bool, error) {
	chain, open := r.chains[p.Secid]
	if !open && len(r.chains) >= r.maxSessions {
		return FiraConnectorMessage{}, false, adminError{ErrorTooManyConcurrentFragmentedSessions}
	}
	total := len(p.Payload)
	for _, c := range chain {
		total += len(c)
	}
	if total > r.maxMessage {
		delete(r.chains, p.Secid)
		return FiraConnectorMessage{}, false, adminError{ErrorMessageLengthOverflow}
	}
	chain = append(chain, p.Payload)
	if !p.LastChainingPacket {
		r.chains[p.Secid] = chain
		return FiraConnectorMessage{}, false, nil
	}
	delete(r.chains, p.Secid)
	data := make([]byte, 0, total)
	for _, c := range chain {
		data = append(data, c...)
	}
	m, err := DecodeMessage(data)
	if err != nil {
		return FiraConnectorMessage{}, false, adminError{ErrorSecidProtocolError}
	}
	return m, true, nil
}

func (r *reassembler) clear() {
	r.chains = make(map[byte][][]byte)
}
