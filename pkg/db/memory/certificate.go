package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
)

func copyCertificate(c entities.Certificate) *entities.Certificate {
	c.ProtocolMessage = c.ProtocolMessage.Clone()
	c.Signers = append([]entities.SignerWithStake(nil), c.Signers...)
	return &c
}

// newer orders by epoch then insertion.
func newer(a, b certificateRecord) bool {
	if a.cert.Epoch != b.cert.Epoch {
		return a.cert.Epoch > b.cert.Epoch
	}
	return a.seq > b.seq
}

func (s *Store) CreateCertificate(_ context.Context, cert *entities.Certificate) error {
	typeKey := cert.SignedEntityType.Normalize().Key()
	if existing, loaded := s.certificateByType.LoadOrStore(typeKey, cert.ID); loaded {
		return fmt.Errorf("%w: %s held by %s", db.ErrCertificateExists, typeKey, existing)
	}
	s.certificates.Store(cert.ID, certificateRecord{cert: *copyCertificate(*cert), seq: s.nextSeq()})
	return nil
}

func (s *Store) GetCertificate(_ context.Context, id string) (*entities.Certificate, error) {
	rec, ok := s.certificates.Load(id)
	if !ok {
		return nil, nil
	}
	return copyCertificate(rec.cert), nil
}

func (s *Store) sortedCertificates(filter func(entities.Certificate) bool) []certificateRecord {
	var out []certificateRecord
	s.certificates.Range(func(_ string, rec certificateRecord) bool {
		if filter == nil || filter(rec.cert) {
			out = append(out, rec)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

func (s *Store) GetLatestCertificate(_ context.Context) (*entities.Certificate, error) {
	recs := s.sortedCertificates(nil)
	if len(recs) == 0 {
		return nil, nil
	}
	return copyCertificate(recs[0].cert), nil
}

func (s *Store) GetLatestCertificateBefore(_ context.Context, epoch entities.Epoch) (*entities.Certificate, error) {
	recs := s.sortedCertificates(func(c entities.Certificate) bool { return c.Epoch < epoch })
	if len(recs) == 0 {
		return nil, nil
	}
	return copyCertificate(recs[0].cert), nil
}

func (s *Store) GetCertificateBySignedEntityType(_ context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error) {
	id, ok := s.certificateByType.Load(signedEntityType.Normalize().Key())
	if !ok {
		return nil, nil
	}
	rec, ok := s.certificates.Load(id)
	if !ok {
		return nil, nil
	}
	return copyCertificate(rec.cert), nil
}

func (s *Store) ListCertificates(_ context.Context, limit int) ([]entities.Certificate, error) {
	recs := s.sortedCertificates(nil)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]entities.Certificate, 0, len(recs))
	for _, r := range recs {
		out = append(out, *copyCertificate(r.cert))
	}
	return out, nil
}
