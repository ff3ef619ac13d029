package calllog

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

const collectionCallLogs = "callLogs"

// FirestoreRepo stores events in the callLogs collection keyed by event id.
type FirestoreRepo struct {
	client *firestore.Client
}

func NewFirestoreRepo(client *firestore.Client) *FirestoreRepo {
	return &FirestoreRepo{client: client}
}

func (r *FirestoreRepo) Append(ctx context.Context, e Event) error {
	_, err := r.client.Collection(collectionCallLogs).Doc(e.ID).Create(ctx, e)
	return err
}

func (r *FirestoreRepo) List(ctx context.Context, callID string, limit int) ([]Event, error) {
	docs, err := r.client.Collection(collectionCallLogs).
		Where("callId", "==", callID).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(docs))
	for _, snap := range docs {
		var e Event
		if err := snap.DataTo(&e); err != nil {
			return nil, fmt.Errorf("decode call log %s: %w", snap.Ref.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
