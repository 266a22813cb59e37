package entities

import "time"

// OpenMessage is a protocol message currently accepting signatures for one signed entity type.
type OpenMessage struct {
	ID               string           `json:"open_message_id"`
	Epoch            Epoch            `json:"epoch"`
	SignedEntityType SignedEntityType `json:"signed_entity_type"`
	ProtocolMessage  ProtocolMessage  `json:"protocol_message"`
	IsCertified      bool             `json:"is_certified"`
	CreatedAt        time.Time        `json:"created_at"`
}

type OpenMessageWithSignatures struct {
	OpenMessage
	SingleSignatures []SingleSignature `json:"single_signatures"`
}

// SingleSignature is one party's signature over an open message, with the lottery indexes it won.
type SingleSignature struct {
	PartyID        PartyID   `json:"party_id"`
	OpenMessageID  string    `json:"open_message_id,omitempty"`
	LotteryIndexes []uint64  `json:"indexes"`
	Signature      string    `json:"signature"`
	CreatedAt      time.Time `json:"created_at"`
}

// DedupeByParty keeps the last signature submitted by each party, in first-seen order.
func DedupeByParty(sigs []SingleSignature) []SingleSignature {
	idx := make(map[PartyID]int, len(sigs))
	out := make([]SingleSignature, 0, len(sigs))
	for _, s := range sigs {
		if i, ok := idx[s.PartyID]; ok {
			out[i] = s
			continue
		}
		idx[s.PartyID] = len(out)
		out = append(out, s)
	}
	return out
}
