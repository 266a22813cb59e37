// Package dbtest holds the behaviour every db.Store implementation must share.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) db.Store

// RunStoreSuite exercises a store implementation.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Run("open messages", func(t *testing.T) { testOpenMessages(t, newStore(t)) })
	t.Run("clean epoch", func(t *testing.T) { testCleanEpoch(t, newStore(t)) })
	t.Run("single signatures", func(t *testing.T) { testSingleSignatures(t, newStore(t)) })
	t.Run("certificates", func(t *testing.T) { testCertificates(t, newStore(t)) })
	t.Run("verification keys", func(t *testing.T) { testVerificationKeys(t, newStore(t)) })
	t.Run("stakes and epoch settings", func(t *testing.T) { testStakesAndSettings(t, newStore(t)) })
	t.Run("signer recorder", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.RecordSignerRegistration(context.Background(), "party-1"))
		require.NoError(t, s.RecordSignerRegistration(context.Background(), "party-1"))
		require.NoError(t, s.Vacuum(context.Background()))
	})
}

func message(parts map[entities.ProtocolMessagePartKey]string) entities.ProtocolMessage {
	pm := entities.NewProtocolMessage()
	for k, v := range parts {
		pm.Set(k, v)
	}
	return pm
}

func testOpenMessages(t *testing.T, s db.Store) {
	ctx := context.Background()
	msd := entities.NewMithrilStakeDistribution(3)

	none, err := s.GetOpenMessage(ctx, msd)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := s.CreateOpenMessage(ctx, 3, msd, message(map[entities.ProtocolMessagePartKey]string{entities.CurrentEpoch: "3"}))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.False(t, first.IsCertified)

	// a different beacon of the same type is not visible
	other, err := s.GetOpenMessage(ctx, entities.NewMithrilStakeDistribution(4))
	require.NoError(t, err)
	assert.Nil(t, other)

	time.Sleep(2 * time.Millisecond)
	second, err := s.CreateOpenMessage(ctx, 3, msd, message(map[entities.ProtocolMessagePartKey]string{entities.CurrentEpoch: "3", entities.SnapshotDigest: "x"}))
	require.NoError(t, err)

	got, err := s.GetOpenMessage(ctx, msd)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID, "newest open message wins")
	assert.True(t, second.ProtocolMessage.Equal(got.ProtocolMessage))

	got.IsCertified = true
	got.ProtocolMessage.Set(entities.SnapshotDigest, "y")
	require.NoError(t, s.UpdateOpenMessage(ctx, got))

	updated, err := s.GetOpenMessage(ctx, msd)
	require.NoError(t, err)
	assert.True(t, updated.IsCertified)
	v, _ := updated.ProtocolMessage.Get(entities.SnapshotDigest)
	assert.Equal(t, "y", v)

	withSigs, err := s.GetOpenMessageWithSignatures(ctx, msd)
	require.NoError(t, err)
	require.NotNil(t, withSigs)
	assert.Empty(t, withSigs.SingleSignatures)

	missing := *first
	missing.ID = "00000000-0000-0000-0000-000000000000"
	assert.ErrorIs(t, s.UpdateOpenMessage(ctx, &missing), db.ErrNotFound)

	txs := entities.NewCardanoTransactions(3, 100)
	_, err = s.CreateOpenMessage(ctx, 3, txs, entities.NewProtocolMessage())
	require.NoError(t, err)
	gotTxs, err := s.GetOpenMessage(ctx, txs)
	require.NoError(t, err)
	require.NotNil(t, gotTxs)
	assert.Equal(t, txs, gotTxs.SignedEntityType)
}

func testCleanEpoch(t *testing.T, s db.Store) {
	ctx := context.Background()
	for _, e := range []entities.Epoch{1, 2, 3} {
		msg, err := s.CreateOpenMessage(ctx, e, entities.NewMithrilStakeDistribution(e), entities.NewProtocolMessage())
		require.NoError(t, err)
		require.NoError(t, s.SaveSingleSignature(ctx, entities.SingleSignature{
			PartyID: "p", OpenMessageID: msg.ID, LotteryIndexes: []uint64{0}, Signature: "aa",
		}))
	}

	removed, err := s.CleanEpoch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, e := range []entities.Epoch{1, 2} {
		got, err := s.GetOpenMessage(ctx, entities.NewMithrilStakeDistribution(e))
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	got, err := s.GetOpenMessageWithSignatures(ctx, entities.NewMithrilStakeDistribution(3))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.SingleSignatures, 1)

	removed, err = s.CleanEpoch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func testSingleSignatures(t *testing.T, s db.Store) {
	ctx := context.Background()
	sigType := entities.NewCardanoImmutableFilesFull(5, 42)
	msg, err := s.CreateOpenMessage(ctx, 5, sigType, entities.NewProtocolMessage())
	require.NoError(t, err)

	require.NoError(t, s.SaveSingleSignature(ctx, entities.SingleSignature{PartyID: "a", OpenMessageID: msg.ID, LotteryIndexes: []uint64{0, 1}, Signature: "01"}))
	require.NoError(t, s.SaveSingleSignature(ctx, entities.SingleSignature{PartyID: "b", OpenMessageID: msg.ID, LotteryIndexes: []uint64{2}, Signature: "02"}))
	// resubmission replaces
	require.NoError(t, s.SaveSingleSignature(ctx, entities.SingleSignature{PartyID: "a", OpenMessageID: msg.ID, LotteryIndexes: []uint64{3}, Signature: "03"}))

	got, err := s.GetOpenMessageWithSignatures(ctx, sigType)
	require.NoError(t, err)
	require.Len(t, got.SingleSignatures, 2)
	byParty := map[string]entities.SingleSignature{}
	for _, sig := range got.SingleSignatures {
		byParty[sig.PartyID] = sig
	}
	assert.Equal(t, "03", byParty["a"].Signature)
	assert.Equal(t, []uint64{3}, byParty["a"].LotteryIndexes)
	assert.Equal(t, msg.ID, byParty["b"].OpenMessageID)

	err = s.SaveSingleSignature(ctx, entities.SingleSignature{PartyID: "c", OpenMessageID: "11111111-1111-1111-1111-111111111111", LotteryIndexes: []uint64{0}, Signature: "04"})
	assert.Error(t, err)
}

func certificate(epoch entities.Epoch, sigType entities.SignedEntityType, parent string, sealedAt time.Time) *entities.Certificate {
	pm := entities.NewProtocolMessage()
	pm.Set(entities.NextAggregateVerificationKey, "avk-"+epoch.String())
	c := &entities.Certificate{
		ParentID:                 parent,
		Message:                  pm.Digest(),
		Signature:                entities.CertificateSignature{Kind: entities.MultiSignature, Value: "sig"},
		AggregateVerificationKey: "avk",
		Epoch:                    epoch,
		SignedEntityType:         sigType,
		ProtocolVersion:          "0.1.0",
		ProtocolParameters:       entities.ProtocolParameters{K: 2, M: 10, PhiF: 0.5},
		ProtocolMessage:          pm,
		Signers: []entities.SignerWithStake{
			{Signer: entities.Signer{PartyID: "a", VerificationKey: "vk"}, Stake: 10},
		},
		InitiatedAt: sealedAt.Add(-time.Second),
		SealedAt:    sealedAt,
	}
	c.Seal()
	return c
}

func testCertificates(t *testing.T, s db.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	latest, err := s.GetLatestCertificate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	genesis := certificate(1, entities.NewMithrilStakeDistribution(1), "", base)
	genesis.Signature.Kind = entities.GenesisSignature
	genesis.Seal()
	require.NoError(t, s.CreateCertificate(ctx, genesis))

	c2 := certificate(2, entities.NewMithrilStakeDistribution(2), genesis.ID, base.Add(time.Minute))
	require.NoError(t, s.CreateCertificate(ctx, c2))
	c2b := certificate(2, entities.NewCardanoImmutableFilesFull(2, 10), genesis.ID, base.Add(2*time.Minute))
	require.NoError(t, s.CreateCertificate(ctx, c2b))

	dup := certificate(2, entities.NewMithrilStakeDistribution(2), genesis.ID, base.Add(3*time.Minute))
	assert.ErrorIs(t, s.CreateCertificate(ctx, dup), db.ErrCertificateExists)

	got, err := s.GetCertificate(ctx, c2.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c2.ID, got.ComputeHash(), "hash survives storage")
	assert.Equal(t, c2.ParentID, got.ParentID)
	assert.Equal(t, c2.SignedEntityType, got.SignedEntityType)
	assert.Equal(t, c2.Signers, got.Signers)

	missing, err := s.GetCertificate(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	latest, err = s.GetLatestCertificate(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2b.ID, latest.ID)

	before, err := s.GetLatestCertificateBefore(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Equal(t, genesis.ID, before.ID)

	before, err = s.GetLatestCertificateBefore(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, c2b.ID, before.ID)

	before, err = s.GetLatestCertificateBefore(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, before)

	byType, err := s.GetCertificateBySignedEntityType(ctx, entities.NewMithrilStakeDistribution(2))
	require.NoError(t, err)
	require.NotNil(t, byType)
	assert.Equal(t, c2.ID, byType.ID)

	list, err := s.ListCertificates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c2b.ID, list[0].ID)
	assert.Equal(t, c2.ID, list[1].ID)
}

func testVerificationKeys(t *testing.T, s db.Store) {
	ctx := context.Background()
	signer := func(party, vk string, stake uint64) entities.SignerWithStake {
		return entities.SignerWithStake{Signer: entities.Signer{PartyID: party, VerificationKey: vk}, Stake: stake}
	}

	prev, err := s.SaveVerificationKey(ctx, 5, signer("a", "vk-a", 10))
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = s.SaveVerificationKey(ctx, 5, signer("a", "vk-a", 10))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "vk-a", prev.VerificationKey)

	_, err = s.SaveVerificationKey(ctx, 5, signer("b", "vk-b", 20))
	require.NoError(t, err)
	_, err = s.SaveVerificationKey(ctx, 3, signer("a", "vk-a-old", 10))
	require.NoError(t, err)
	_, err = s.SaveVerificationKey(ctx, 4, signer("a", "vk-a-4", 10))
	require.NoError(t, err)

	signers, err := s.GetSigners(ctx, 5)
	require.NoError(t, err)
	require.Len(t, signers, 2, "no duplicate record for the same party")
	assert.Equal(t, "a", signers[0].PartyID)
	assert.Equal(t, uint64(20), signers[1].Stake)

	keys, err := s.GetVerificationKeys(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "vk-b", keys["b"].VerificationKey)

	require.NoError(t, s.PruneVerificationKeys(ctx, 4))
	old, err := s.GetSigners(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, old)
	kept, err := s.GetSigners(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func testStakesAndSettings(t *testing.T, s db.Store) {
	ctx := context.Background()

	sd, err := s.GetStakes(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, sd)

	require.NoError(t, s.SaveStakes(ctx, 7, entities.StakeDistribution{"a": 1, "b": 2}))
	require.NoError(t, s.SaveStakes(ctx, 7, entities.StakeDistribution{"a": 3, "b": 2}))
	sd, err = s.GetStakes(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, entities.StakeDistribution{"a": 3, "b": 2}, sd)

	params, err := s.GetEpochSettings(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, params)

	want := entities.ProtocolParameters{K: 5, M: 100, PhiF: 0.65}
	require.NoError(t, s.SaveEpochSettings(ctx, 7, want))
	params, err = s.GetEpochSettings(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, params)
	assert.Equal(t, want, *params)

	want.K = 6
	require.NoError(t, s.SaveEpochSettings(ctx, 7, want))
	params, err = s.GetEpochSettings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), params.K)
}
