package ptp

import "github.com/telepresenceio/ptp/pkg/wire"

// Chunk is one in-flight (or yet-to-be-sent) DATA segment on the sender
// side, carrying everything needed to transmit it and to recognize its ACK
// under modular sequence arithmetic.
type Chunk struct {
	Seq         uint16
	Payload     []byte
	Ordinal     int
	ExpectedAck uint16
}

// buildChunks splits data into payloads of at most wire.MaxPayload bytes, in
// file order, assigning seq numbers starting at firstSeq: each chunk's seq
// is the previous chunk's seq plus its payload length, mod ModSeq. It
// returns the chunk list and the seq value to use for the terminating FIN
// (the seq immediately after the last chunk, or firstSeq itself for an
// empty file).
func buildChunks(data []byte, firstSeq uint16) (chunks []Chunk, finSeq uint16) {
	seq := firstSeq
	ordinal := 0
	for off := 0; off < len(data); {
		end := off + wire.MaxPayload
		if end > len(data) {
			end = len(data)
		}
		payload := data[off:end]
		expectedAck := addSeq(seq, len(payload))
		chunks = append(chunks, Chunk{
			Seq:         seq,
			Payload:     payload,
			Ordinal:     ordinal,
			ExpectedAck: expectedAck,
		})
		seq = expectedAck
		ordinal++
		off = end
	}
	return chunks, seq
}
