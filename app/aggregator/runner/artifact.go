package runner

import (
	"context"
	"sort"
	"time"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/puzpuzpuz/xsync/v4"
)

// ArtifactBuilder produces the artifact a sealed certificate attests to.
type ArtifactBuilder interface {
	Build(ctx context.Context, cert *entities.Certificate) error
}

// Artifact is the signed entity record kept for a certificate.
type Artifact struct {
	CertificateID    string                    `json:"certificate_id"`
	SignedEntityType entities.SignedEntityType `json:"signed_entity_type"`
	ProtocolMessage  entities.ProtocolMessage  `json:"protocol_message"`
	CreatedAt        time.Time                 `json:"created_at"`
}

// SignedEntities keeps one artifact record per certificate.
type SignedEntities struct {
	entries *xsync.Map[string, Artifact]
	now     func() time.Time
}

var _ ArtifactBuilder = (*SignedEntities)(nil)

func NewSignedEntities() *SignedEntities {
	return &SignedEntities{entries: xsync.NewMap[string, Artifact](), now: time.Now}
}

func (s *SignedEntities) Build(_ context.Context, cert *entities.Certificate) error {
	s.entries.LoadOrStore(cert.ID, Artifact{
		CertificateID:    cert.ID,
		SignedEntityType: cert.SignedEntityType,
		ProtocolMessage:  cert.ProtocolMessage.Clone(),
		CreatedAt:        s.now().UTC(),
	})
	return nil
}

// List returns artifacts of discriminant d, newest epoch first.
func (s *SignedEntities) List(d entities.SignedEntityTypeDiscriminant) []Artifact {
	out := []Artifact{}
	s.entries.Range(func(_ string, a Artifact) bool {
		if a.SignedEntityType.Discriminant == d {
			out = append(out, a)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignedEntityType.Epoch != out[j].SignedEntityType.Epoch {
			return out[i].SignedEntityType.Epoch > out[j].SignedEntityType.Epoch
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
