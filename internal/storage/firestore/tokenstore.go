package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// FirestoreStore implements dispatch.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

const (
	platformAPNS = "apns"
	platformHMS  = "hms"
	platformWeb  = "web"
)

// deviceRecord is the internal DB representation. It holds either a plain
// token string (mobile) or a full subscription object (web).
type deviceRecord struct {
	Platform        string                    `firestore:"platform"`
	Token           string                    `firestore:"token,omitempty"`
	WebSubscription *dispatch.WebSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                 `firestore:"updated_at"`
}

func (s *FirestoreStore) registerToken(ctx context.Context, user urn.URN, platform, token string) error {
	// Hash of token as doc ID prevents duplicates and hot-spotting.
	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(user, hashToken(token)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, platformAPNS, token)
}

func (s *FirestoreStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	_, err := s.deviceRef(user, hashToken(token)).Delete(ctx)
	return err
}

func (s *FirestoreStore) RegisterHMS(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, platformHMS, token)
}

func (s *FirestoreStore) UnregisterHMS(ctx context.Context, user urn.URN, token string) error {
	_, err := s.deviceRef(user, hashToken(token)).Delete(ctx)
	return err
}

func (s *FirestoreStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.WebSubscription) error {
	// For web, the endpoint URL is the unique identifier.
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(user, hashToken(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	_, err := s.deviceRef(user, hashToken(endpoint)).Delete(ctx)
	return err
}

// Fetch returns every registered device for the user, bucketed by platform.
func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) (*dispatch.DeviceSet, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	set := &dispatch.DeviceSet{
		User:             user,
		APNSTokens:       make([]string, 0),
		HMSTokens:        make([]string, 0),
		WebSubscriptions: make([]dispatch.WebSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Safe to skip corrupt rows; one bad record must not break fan-out.
			continue
		}

		switch {
		case record.Platform == platformWeb && record.WebSubscription != nil:
			set.WebSubscriptions = append(set.WebSubscriptions, *record.WebSubscription)
		case record.Platform == platformHMS && record.Token != "":
			set.HMSTokens = append(set.HMSTokens, record.Token)
		case record.Token != "":
			set.APNSTokens = append(set.APNSTokens, record.Token)
		}
	}

	return set, nil
}

// deviceRef: users/{userID}/devices/{deviceHash}
func (s *FirestoreStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *FirestoreStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
