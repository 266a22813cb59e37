package redis

import (
	"context"
	"time"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

const certificateSealedTopic = "certificate.sealed"

// CertificateSealedEvent is published once per sealed certificate.
type CertificateSealedEvent struct {
	CertificateID    string                    `json:"certificate_id"`
	ParentID         string                    `json:"previous_hash"`
	Epoch            entities.Epoch            `json:"epoch"`
	SignedEntityType entities.SignedEntityType `json:"signed_entity_type"`
	Signers          int                       `json:"signers"`
	SealedAt         time.Time                 `json:"sealed_at"`
}

// CertificateEvents announces sealed certificates on a Pub/Sub channel and appends them
// to a capped stream for late readers.
type CertificateEvents struct {
	client *Client
}

func NewCertificateEvents(client *Client) *CertificateEvents {
	return &CertificateEvents{client: client}
}

// Channel is both the Pub/Sub channel and the stream name.
func (e *CertificateEvents) Channel() string {
	return e.client.Key(certificateSealedTopic)
}

func (e *CertificateEvents) CertificateSealed(ctx context.Context, cert *entities.Certificate) {
	payload, err := json.Marshal(CertificateSealedEvent{
		CertificateID:    cert.ID,
		ParentID:         cert.ParentID,
		Epoch:            cert.Epoch,
		SignedEntityType: cert.SignedEntityType,
		Signers:          len(cert.Signers),
		SealedAt:         cert.SealedAt,
	})
	if err != nil {
		e.client.logger.Warn("Failed to encode certificate event", zap.String("certificate_id", cert.ID), zap.Error(err))
		return
	}

	e.client.Publish(ctx, e.Channel(), string(payload))
	e.client.XAdd(ctx, e.Channel(), map[string]interface{}{
		"certificate_id": cert.ID,
		"payload":        string(payload),
	})
}
