package multisig

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
)

// StakeScheme is the reference Scheme.
type StakeScheme struct{}

func NewStakeScheme() *StakeScheme {
	return &StakeScheme{}
}

var _ Scheme = (*StakeScheme)(nil)

func decodeKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d hex encoded bytes", ErrInvalidVerificationKey, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

func decodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: expected %d hex encoded bytes", ErrMalformedSignature, ed25519.SignatureSize)
	}
	return b, nil
}

// VerifyRegistration accepts a bare key when no operational certificate is provided.
func (s *StakeScheme) VerifyRegistration(signer entities.Signer, kesPeriod *entities.KESPeriod) error {
	vk, err := decodeKey(signer.VerificationKey)
	if err != nil {
		return err
	}
	opcert := signer.OperationalCertificate
	if opcert == nil {
		return nil
	}

	poolID, err := opcert.PoolID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperationalCertificate, err)
	}
	if signer.PartyID != "" && signer.PartyID != poolID {
		return fmt.Errorf("%w: %s != %s", ErrPartyMismatch, signer.PartyID, poolID)
	}

	cold, err := decodeKey(opcert.ColdVerificationKey)
	if err != nil {
		return fmt.Errorf("%w: cold key: %v", ErrInvalidOperationalCertificate, err)
	}
	payload, err := opcert.SignedPayload()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperationalCertificate, err)
	}
	coldSig, err := decodeSignature(opcert.ColdSignature)
	if err != nil || !ed25519.Verify(cold, payload, coldSig) {
		return fmt.Errorf("%w: cold signature does not verify", ErrInvalidOperationalCertificate)
	}

	if kesPeriod == nil || *kesPeriod >= MaxKESEvolutions {
		return ErrKESPeriodOutOfRange
	}

	kes, err := decodeKey(opcert.KESVerificationKey)
	if err != nil {
		return fmt.Errorf("%w: kes key: %v", ErrInvalidOperationalCertificate, err)
	}
	kesSig, err := decodeSignature(signer.VerificationKeySignature)
	if err != nil || !ed25519.Verify(kes, vk, kesSig) {
		return ErrInvalidKESSignature
	}
	return nil
}

func (s *StakeScheme) VerifySingleSignature(message string, sig entities.SingleSignature, signer entities.SignerWithStake, totalStake uint64, params entities.ProtocolParameters) error {
	if sig.PartyID != signer.PartyID {
		return fmt.Errorf("%w: signature party %s, signer %s", ErrSignatureVerification, sig.PartyID, signer.PartyID)
	}
	raw, err := decodeSignature(sig.Signature)
	if err != nil {
		return err
	}
	if len(sig.LotteryIndexes) == 0 {
		return fmt.Errorf("%w: no lottery index", ErrMalformedSignature)
	}
	vk, err := decodeKey(signer.VerificationKey)
	if err != nil {
		return err
	}

	wins := LotteryWins(signer.Stake, totalStake, params)
	if wins == 0 {
		return ErrLotteryLost
	}
	seen := make(map[uint64]struct{}, len(sig.LotteryIndexes))
	for _, idx := range sig.LotteryIndexes {
		if _, dup := seen[idx]; dup || idx >= wins {
			return fmt.Errorf("%w: index %d (won %d)", ErrLotteryIndex, idx, wins)
		}
		seen[idx] = struct{}{}
	}

	if !ed25519.Verify(vk, []byte(message), raw) {
		return ErrSignatureVerification
	}
	return nil
}

// HasQuorum counts the lottery indexes of distinct registered parties against K.
// Signatures are assumed to be verified already.
func (s *StakeScheme) HasQuorum(sigs []entities.SingleSignature, signers []entities.SignerWithStake, params entities.ProtocolParameters) bool {
	return countWins(sigs, signers, params) >= params.K
}

func countWins(sigs []entities.SingleSignature, signers []entities.SignerWithStake, params entities.ProtocolParameters) uint64 {
	total := entities.TotalStake(signers)
	seen := make(map[entities.PartyID]struct{}, len(sigs))
	var count uint64
	for _, sig := range sigs {
		if _, dup := seen[sig.PartyID]; dup {
			continue
		}
		signer, ok := entities.FindSigner(signers, sig.PartyID)
		if !ok {
			continue
		}
		seen[sig.PartyID] = struct{}{}
		wins := LotteryWins(signer.Stake, total, params)
		n := uint64(len(sig.LotteryIndexes))
		if n > wins {
			n = wins
		}
		count += n
	}
	return count
}

type aggregateEntry struct {
	PartyID   string   `json:"party_id"`
	Indexes   []uint64 `json:"indexes"`
	Signature string   `json:"signature"`
}

type aggregateLeaf struct {
	PartyID         string `json:"party_id"`
	VerificationKey string `json:"verification_key"`
	Stake           uint64 `json:"stake"`
}

type aggregateSignature struct {
	Signatures []aggregateEntry `json:"signatures"`
	Signers    []aggregateLeaf  `json:"signers"`
}

// Aggregate encodes the quorate signatures together with the registered signer set.
func (s *StakeScheme) Aggregate(message string, sigs []entities.SingleSignature, signers []entities.SignerWithStake, params entities.ProtocolParameters) (string, error) {
	if len(signers) == 0 {
		return "", ErrNoSigners
	}
	sigs = entities.DedupeByParty(sigs)
	if !s.HasQuorum(sigs, signers, params) {
		return "", ErrNotEnoughSignatures
	}

	agg := aggregateSignature{Signers: leaves(signers)}
	for _, sig := range sigs {
		if _, ok := entities.FindSigner(signers, sig.PartyID); !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownSigner, sig.PartyID)
		}
		agg.Signatures = append(agg.Signatures, aggregateEntry{
			PartyID:   sig.PartyID,
			Indexes:   sig.LotteryIndexes,
			Signature: sig.Signature,
		})
	}
	sort.Slice(agg.Signatures, func(i, j int) bool { return agg.Signatures[i].PartyID < agg.Signatures[j].PartyID })

	raw, err := json.Marshal(agg)
	if err != nil {
		return "", fmt.Errorf("encode aggregate signature: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func (s *StakeScheme) VerifyAggregate(aggregate, avk, message string, params entities.ProtocolParameters) error {
	raw, err := hex.DecodeString(aggregate)
	if err != nil {
		return fmt.Errorf("%w: aggregate is not hex", ErrMalformedSignature)
	}
	var agg aggregateSignature
	if err := json.Unmarshal(raw, &agg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	signers := make([]entities.SignerWithStake, 0, len(agg.Signers))
	for _, l := range agg.Signers {
		signers = append(signers, entities.SignerWithStake{
			Signer: entities.Signer{PartyID: l.PartyID, VerificationKey: l.VerificationKey},
			Stake:  l.Stake,
		})
	}
	derived, err := s.DeriveAggregateVerificationKey(signers)
	if err != nil {
		return err
	}
	if derived != avk {
		return ErrAggregateKeyMismatch
	}

	total := entities.TotalStake(signers)
	sigs := make([]entities.SingleSignature, 0, len(agg.Signatures))
	seen := make(map[string]struct{}, len(agg.Signatures))
	for _, e := range agg.Signatures {
		if _, dup := seen[e.PartyID]; dup {
			return fmt.Errorf("%w: duplicate signer %s", ErrMalformedSignature, e.PartyID)
		}
		seen[e.PartyID] = struct{}{}
		signer, ok := entities.FindSigner(signers, e.PartyID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSigner, e.PartyID)
		}
		sig := entities.SingleSignature{PartyID: e.PartyID, LotteryIndexes: e.Indexes, Signature: e.Signature}
		if err := s.VerifySingleSignature(message, sig, signer, total, params); err != nil {
			return fmt.Errorf("signer %s: %w", e.PartyID, err)
		}
		sigs = append(sigs, sig)
	}
	if !s.HasQuorum(sigs, signers, params) {
		return ErrNotEnoughSignatures
	}
	return nil
}

// DeriveAggregateVerificationKey commits to the sorted signer set and its total stake.
func (s *StakeScheme) DeriveAggregateVerificationKey(signers []entities.SignerWithStake) (string, error) {
	if len(signers) == 0 {
		return "", ErrNoSigners
	}
	ls := leaves(signers)
	level := make([][]byte, 0, len(ls))
	for _, l := range ls {
		level = append(level, leafHash(l))
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, mustDecode(utils.Blake2bHex(level[i], right)))
		}
		level = next
	}
	return utils.Blake2bHex(level[0], utils.Uint64Bytes(entities.TotalStake(signers)), utils.Uint64Bytes(uint64(len(ls)))), nil
}

func leaves(signers []entities.SignerWithStake) []aggregateLeaf {
	out := make([]aggregateLeaf, 0, len(signers))
	for _, s := range signers {
		out = append(out, aggregateLeaf{PartyID: s.PartyID, VerificationKey: s.VerificationKey, Stake: s.Stake})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartyID < out[j].PartyID })
	return out
}

func leafHash(l aggregateLeaf) []byte {
	return mustDecode(utils.Blake2bHex(
		utils.Uint64Bytes(uint64(len(l.PartyID))), []byte(l.PartyID),
		utils.Uint64Bytes(uint64(len(l.VerificationKey))), []byte(l.VerificationKey),
		utils.Uint64Bytes(l.Stake),
	))
}

func mustDecode(h string) []byte {
	b, _ := hex.DecodeString(h)
	return b
}
